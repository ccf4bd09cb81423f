package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingPublisher struct {
	bodies [][]byte
	failAt int
}

func (p *recordingPublisher) Publish(_ context.Context, body []byte) error {
	if p.failAt > 0 && len(p.bodies)+1 == p.failAt {
		return errors.New("broker down")
	}
	p.bodies = append(p.bodies, body)
	return nil
}

type ackSpy struct {
	acks     []uint64
	nacks    []uint64
	requeued bool
}

func (a *ackSpy) Ack(tag uint64, _ bool) error {
	a.acks = append(a.acks, tag)
	return nil
}

func (a *ackSpy) Nack(tag uint64, _ bool, requeue bool) error {
	a.nacks = append(a.nacks, tag)
	a.requeued = a.requeued || requeue
	return nil
}
func (a *ackSpy) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

type fakeIngester struct {
	fail map[string]error
	got  []Job
}

func (f *fakeIngester) IngestAs(_ context.Context, path, source string) (int, error) {
	f.got = append(f.got, Job{Path: path, Source: source})
	if err := f.fail[path]; err != nil {
		return 0, err
	}
	return 3, nil
}

func TestEnqueue(t *testing.T) {
	pub := &recordingPublisher{}
	n, err := Enqueue(context.Background(), pub, []string{"/data/a.txt", "/data/sub/b.pdf"})
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	var job Job
	if err := sonic.Unmarshal(pub.bodies[1], &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Path != "/data/sub/b.pdf" || job.Source != "b.pdf" {
		t.Fatalf("unexpected job: %+v", job)
	}

	pub = &recordingPublisher{failAt: 2}
	n, err = Enqueue(context.Background(), pub, []string{"a.txt", "b.txt", "c.txt"})
	if err == nil || n != 1 {
		t.Fatalf("expected failure after 1 publish, n=%d err=%v", n, err)
	}
}

func TestWorkerAcksAndDeadLetters(t *testing.T) {
	spy := &ackSpy{}
	ing := &fakeIngester{fail: map[string]error{"/data/bad.pdf": ErrNoText}}
	w := NewWorker(ing)

	deliveries := make(chan amqp.Delivery, 4)
	deliveries <- amqp.Delivery{Acknowledger: spy, DeliveryTag: 1, Body: []byte(`{"path":"/data/a.txt","source":"a.txt"}`)}
	deliveries <- amqp.Delivery{Acknowledger: spy, DeliveryTag: 2, Body: []byte(`{"path":"/data/bad.pdf"}`)}
	deliveries <- amqp.Delivery{Acknowledger: spy, DeliveryTag: 3, Body: []byte(`not json`)}
	deliveries <- amqp.Delivery{Acknowledger: spy, DeliveryTag: 4, Body: []byte(`{"source":"x"}`)}
	close(deliveries)

	if err := w.Run(context.Background(), deliveries); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(spy.acks) != 1 || spy.acks[0] != 1 {
		t.Fatalf("acks = %v", spy.acks)
	}
	if len(spy.nacks) != 3 || spy.requeued {
		t.Fatalf("nacks = %v requeued=%v", spy.nacks, spy.requeued)
	}
	if len(ing.got) != 2 || ing.got[1].Source != "bad.pdf" {
		t.Fatalf("ingested = %+v", ing.got)
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewWorker(&fakeIngester{}).Run(ctx, make(chan amqp.Delivery)) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}
