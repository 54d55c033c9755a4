package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	e := New(IntakeFinalized, "child-1", map[string]string{"intakeFormId": "f-1"})
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "child-1" {
		t.Errorf("expected key child-1, got %s", msg.Key)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != IntakeFinalized || decoded.ID != e.ID {
		t.Errorf("unexpected event %+v", decoded)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Error("expected writer closed")
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{err: errors.New("broker down")})
	err := p.Publish(context.Background(), New(ClaimReviewed, "c", nil))
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Errorf("expected wrapped broker error, got %v", err)
	}
}

type fakeSQS struct {
	sent []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/" + aws.ToString(in.QueueName))}, nil
}

func TestSQSPublisher_Publish(t *testing.T) {
	fake := &fakeSQS{}
	p, err := NewSQSPublisher(context.Background(), fake, "mia-events")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(context.Background(), New(DocumentUploaded, "child-2", nil)); err != nil {
		t.Fatal(err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.sent))
	}
	in := fake.sent[0]
	if aws.ToString(in.QueueUrl) != "https://sqs.local/mia-events" {
		t.Errorf("unexpected queue url %s", aws.ToString(in.QueueUrl))
	}
	if aws.ToString(in.MessageAttributes["eventType"].StringValue) != DocumentUploaded {
		t.Errorf("missing eventType attribute")
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))
	if err := p.Publish(context.Background(), New(IntakeCheckpointed, "child-3", nil)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"event_type":"intake.checkpointed"`) {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}

func TestEmit_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	pub := &MemoryPublisher{Err: errors.New("nope")}
	Emit(context.Background(), pub, zerolog.New(&buf), New(ClaimReviewed, "k", nil))
	if !strings.Contains(buf.String(), "event publish failed") {
		t.Errorf("expected warning, got %s", buf.String())
	}
	Emit(context.Background(), nil, zerolog.New(&buf), New(ClaimReviewed, "k", nil))
}

func TestMemoryPublisher_Types(t *testing.T) {
	pub := &MemoryPublisher{}
	_ = pub.Publish(context.Background(), New(IntakeCheckpointed, "a", nil))
	_ = pub.Publish(context.Background(), New(IntakeFinalized, "a", nil))
	got := pub.Types()
	if len(got) != 2 || got[0] != IntakeCheckpointed || got[1] != IntakeFinalized {
		t.Errorf("unexpected types %v", got)
	}
}
