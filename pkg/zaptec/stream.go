package zaptec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"github.com/zaptec-community/go-zaptec/pkg/zaptec/nbfx"
)

// streamBatchSize is how many messages are pulled from the service bus
// per receive call.
const streamBatchSize = 10

// StreamCallback receives every decoded stream message for an
// installation.
type StreamCallback func(msg map[string]any)

// busMessage is one raw message from the stream.
type busMessage struct {
	body []byte
	raw  *azservicebus.ReceivedMessage
}

// busReceiver abstracts the service bus subscription receiver so the
// stream loop can run against a fake in tests.
type busReceiver interface {
	Receive(ctx context.Context) ([]busMessage, error)
	Complete(ctx context.Context, msg busMessage) error
	Close(ctx context.Context) error
}

// streamConnectFunc opens a receiver for an installation topic.
type streamConnectFunc func(connStr, topic, subscription string) (busReceiver, error)

type sbReceiver struct {
	client   *azservicebus.Client
	receiver *azservicebus.Receiver
}

func connectServiceBus(connStr, topic, subscription string) (busReceiver, error) {
	client, err := azservicebus.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	receiver, err := client.NewReceiverForSubscription(topic, subscription, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, err
	}
	return &sbReceiver{client: client, receiver: receiver}, nil
}

func (r *sbReceiver) Receive(ctx context.Context) ([]busMessage, error) {
	msgs, err := r.receiver.ReceiveMessages(ctx, streamBatchSize, nil)
	if err != nil {
		return nil, err
	}
	out := make([]busMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, busMessage{body: m.Body, raw: m})
	}
	return out, nil
}

func (r *sbReceiver) Complete(ctx context.Context, msg busMessage) error {
	if msg.raw == nil {
		return nil
	}
	return r.receiver.CompleteMessage(ctx, msg.raw, nil)
}

func (r *sbReceiver) Close(ctx context.Context) error {
	err := r.receiver.Close(ctx)
	if cerr := r.client.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// Stream starts the live message stream for the installation in the
// background. A running stream is cancelled first. The returned channel
// closes when the stream stops for any reason, the caller decides
// whether to restart.
func (i *Installation) Stream(ctx context.Context, cb StreamCallback) <-chan struct{} {
	i.CancelStream()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	i.streamMu.Lock()
	i.streamCancel = cancel
	i.streamDone = done
	i.streamMu.Unlock()

	go func() {
		defer close(done)
		i.streamMain(ctx, cb)
	}()
	return done
}

// CancelStream stops the running stream and waits for it to exit. It is
// a no-op when no stream runs.
func (i *Installation) CancelStream() {
	i.streamMu.Lock()
	recv := i.streamRecv
	cancel := i.streamCancel
	done := i.streamDone
	i.streamCancel = nil
	i.streamDone = nil
	i.streamMu.Unlock()

	if recv != nil {
		// Closing the receiver unblocks a pending receive.
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = recv.Close(closeCtx)
		closeCancel()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (i *Installation) streamMain(ctx context.Context, cb StreamCallback) {
	defer func() {
		i.streamMu.Lock()
		i.streamRecv = nil
		i.streamMu.Unlock()
		log.Info().Str("installation", i.QualID()).Msg("Servicebus stream stopped")
	}()

	details, err := i.StreamConnectionDetails(ctx)
	if err != nil {
		if IsForbidden(err) {
			log.Warn().Str("installation", i.QualID()).
				Msg("Failed to get live stream info. Check if the user has access in the Zaptec portal")
			return
		}
		log.Error().Err(err).Str("installation", i.QualID()).Msg("Stream failed")
		return
	}

	host, _ := details["Host"].(string)
	username, _ := details["Username"].(string)
	password, _ := details["Password"].(string)
	topic, _ := details["Topic"].(string)
	subscription, _ := details["Subscription"].(string)

	connStr := fmt.Sprintf("Endpoint=sb://%s/;SharedAccessKeyName=%s;SharedAccessKey=%s",
		host, username, password)

	obfuscated := connStr
	if password != "" {
		obfuscated = strings.ReplaceAll(obfuscated, password, "********")
	}
	if username != "" {
		obfuscated = strings.ReplaceAll(obfuscated, username, "********")
	}
	log.Debug().Str("connection", obfuscated).Msg("Connecting to servicebus")

	recv, err := i.client.streamConnect(connStr, topic, subscription)
	if err != nil {
		log.Error().Err(err).Str("installation", i.QualID()).Msg("Stream failed")
		return
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = recv.Close(closeCtx)
	}()

	i.streamMu.Lock()
	i.streamRecv = recv
	i.streamMu.Unlock()

	log.Info().Str("installation", i.QualID()).Msg("Running service bus stream")

	for {
		msgs, err := recv.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("installation", i.QualID()).Msg("Stream failed")
			}
			return
		}
		for _, msg := range msgs {
			i.handleStreamMessage(msg.body, cb)
			// The message must leave the queue even when processing
			// failed, or it would be redelivered forever.
			if err := recv.Complete(ctx, msg); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Str("installation", i.QualID()).Msg("Failed to complete stream message")
			}
		}
	}
}

// handleStreamMessage decodes one MC-NBFX framed message and applies it.
// Failures are logged and swallowed, the stream must continue.
func (i *Installation) handleStreamMessage(body []byte, cb StreamCallback) {
	fail := func(err error) {
		log.Error().Err(err).Str("installation", i.QualID()).Msg("Couldn't process stream message")
		log.Debug().Hex("message", body).Msg("Raw message")
	}

	elements, err := nbfx.Decode(body)
	if err != nil {
		fail(err)
		return
	}
	if len(elements) == 0 {
		fail(fmt.Errorf("empty message"))
		return
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(elements[0].Text), &data); err != nil {
		fail(err)
		return
	}

	i.logStreamEvent(data)
	i.streamUpdate(copyAttrs(data))
	if cb != nil {
		cb(data)
	}
}

// logStreamEvent logs the event with the observation id annotated.
// DeviceId and DeviceType are dropped, they are never used.
func (i *Installation) logStreamEvent(data map[string]any) {
	event := copyAttrs(data)
	if sid, ok := event["StateId"]; ok {
		if id, ok := asInt(sid); ok {
			if name, ok := i.client.Const().Observations().Name(id); ok {
				event["StateId"] = fmt.Sprintf("%v (%s)", sid, name)
			}
		}
	}
	delete(event, "DeviceId")
	delete(event, "DeviceType")
	log.Debug().Interface("event", i.client.Redactor().Redact(event)).Msg("Stream event")
}

// streamUpdate applies one stream message to the charger it belongs to.
func (i *Installation) streamUpdate(data map[string]any) {
	chargerID, ok := data["ChargerId"].(string)
	delete(data, "ChargerId")
	if !ok {
		log.Warn().Interface("message", i.client.Redactor().Redact(data)).Msg("Unknown update message")
		return
	}
	if chargerID == emptyUUID {
		log.Debug().Str("charger", chargerID).Msg("Ignoring charger with null id")
		return
	}

	// The stream only carries chargers that belong to this installation.
	var charger *Charger
	for _, chg := range i.Chargers() {
		if chg.ID() == chargerID {
			charger = chg
			break
		}
	}
	if charger == nil {
		log.Warn().Str("charger", i.client.redactStr(chargerID)).Msg("Got update for unknown charger")
		return
	}

	attrs := stateToAttrs([]map[string]any{data}, "StateId", i.client.Const().Observations(), nil)
	charger.SetAttributes(attrs)
}

func copyAttrs(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
