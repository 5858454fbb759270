package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/medrag/pkg/loader"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
)

type declared struct {
	name string
	args amqp091.Table
}

type fakeDeclarer struct{ queues []declared }

func (f *fakeDeclarer) QueueDeclare(name string, _, _, _, _ bool, args amqp091.Table) (amqp091.Queue, error) {
	f.queues = append(f.queues, declared{name: name, args: args})
	return amqp091.Queue{Name: name}, nil
}

type published struct {
	key string
	msg amqp091.Publishing
}

type fakePublisher struct {
	out []published
	err error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked++; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

func TestSetupQueues(t *testing.T) {
	d := &fakeDeclarer{}
	require.NoError(t, SetupQueues(d, Queues))

	names := make([]string, 0, len(d.queues))
	for _, q := range d.queues {
		names = append(names, q.name)
	}
	assert.Equal(t, []string{
		"insert_queue", "insert_queue_dlq", "insert_queue_retry",
		"delete_queue", "delete_queue_dlq", "delete_queue_retry",
	}, names)

	retry := d.queues[2].args
	assert.Equal(t, int32(10000), retry["x-message-ttl"])
	assert.Equal(t, "insert_queue", retry["x-dead-letter-routing-key"])
}

func TestRetries(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp091.Table
		want    int
	}{
		{"missing", nil, 0},
		{"int32", amqp091.Table{"x-retries": int32(3)}, 3},
		{"int64", amqp091.Table{"x-retries": int64(4)}, 4},
		{"int", amqp091.Table{"x-retries": 5}, 5},
		{"garbage", amqp091.Table{"x-retries": "7"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retries(tt.headers); got != tt.want {
				t.Fatalf("Retries() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHandleProcessingError(t *testing.T) {
	tests := []struct {
		name       string
		retries    int32
		cause      error
		wantQueue  string
		wantHeader any
	}{
		{"first failure", 0, errors.New("model down"), "insert_queue_retry", int32(1)},
		{"below limit", 9, errors.New("model down"), "insert_queue_retry", int32(10)},
		{"limit reached", 10, errors.New("model down"), "insert_queue_dlq", int32(10)},
		{"permanent", 0, ErrInvalidMessage, "insert_queue_dlq", int32(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			ack := &fakeAck{}
			msg := amqp091.Delivery{
				Acknowledger: ack,
				Body:         []byte(`{"job_id":"a","text":"x"}`),
				Headers:      amqp091.Table{"x-retries": tt.retries},
			}

			HandleProcessingError(context.Background(), pub, msg, InsertQueue, tt.cause)

			require.Len(t, pub.out, 1)
			assert.Equal(t, tt.wantQueue, pub.out[0].key)
			assert.Equal(t, tt.wantHeader, pub.out[0].msg.Headers["x-retries"])
			assert.Equal(t, msg.Body, pub.out[0].msg.Body)
			assert.Equal(t, 1, ack.acked)
			assert.Equal(t, tt.retries, msg.Headers["x-retries"], "original headers must not change")
		})
	}
}

func TestHandleProcessingErrorRequeuesWhenPublishFails(t *testing.T) {
	ack := &fakeAck{}
	msg := amqp091.Delivery{Acknowledger: ack, Body: []byte("{}")}

	HandleProcessingError(context.Background(), &fakePublisher{err: errors.New("closed")}, msg, DeleteQueue, errors.New("boom"))

	assert.Equal(t, 0, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestDecodeInsertJob(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"text", `{"job_id":"j1","text":"Aspirin lowers fever."}`, false},
		{"url", `{"job_id":"j1","url":"https://example.org/a"}`, false},
		{"s3", `{"job_id":"j1","s3_key":"docs/a.txt"}`, false},
		{"missing job id", `{"text":"x"}`, true},
		{"no source", `{"job_id":"j1"}`, true},
		{"two sources", `{"job_id":"j1","text":"x","s3_key":"y"}`, true},
		{"bad url", `{"job_id":"j1","url":"not a url"}`, true},
		{"not json", `nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInsertJob([]byte(tt.body))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewJobID(t *testing.T) {
	a, err := NewJobID()
	require.NoError(t, err)
	b, err := NewJobID()
	require.NoError(t, err)
	assert.Len(t, a, 21)
	assert.NotEqual(t, a, b)
}

type fakeEngine struct {
	inserted []string
	deleted  []string
	report   rag.InsertReport
	err      error
}

func (f *fakeEngine) Insert(_ context.Context, text string) (rag.InsertReport, error) {
	f.inserted = append(f.inserted, text)
	return f.report, f.err
}

func (f *fakeEngine) DeleteEntity(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return f.err
}

type mapLoader map[string]string

func (m mapLoader) GetFileText(_ context.Context, src loader.Source) ([]byte, error) {
	v, ok := m[src.Path]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(v), nil
}

func TestProcessorInsert(t *testing.T) {
	eng := &fakeEngine{}
	p := &Processor{Engine: eng, Loaders: loader.Set{S3: mapLoader{"docs/a.txt": "Aspirin lowers fever."}}}
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, InsertQueue, []byte(`{"job_id":"j1","text":"Ibuprofen lowers fever."}`)))
	require.NoError(t, p.Process(ctx, InsertQueue, []byte(`{"job_id":"j2","s3_key":"docs/a.txt"}`)))
	assert.Equal(t, []string{"Ibuprofen lowers fever.", "Aspirin lowers fever."}, eng.inserted)

	err := p.Process(ctx, InsertQueue, []byte(`{"job_id":"j3","url":"https://example.org/a"}`))
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestProcessorInsertDegradedIsRetried(t *testing.T) {
	eng := &fakeEngine{report: rag.InsertReport{DegradedChunks: []string{"chunk-1"}}}
	p := &Processor{Engine: eng}

	err := p.Process(context.Background(), InsertQueue, []byte(`{"job_id":"j1","text":"x"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidMessage)
}

func TestProcessorDelete(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"deleted", nil, nil},
		{"already gone", rag.ErrEntityNotFound, nil},
		{"store failure", errors.New("disk full"), errors.New("disk full")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{err: tt.err}
			p := &Processor{Engine: eng}
			err := p.Process(context.Background(), DeleteQueue, []byte(`{"job_id":"j1","entity":"Aspirin"}`))
			if tt.wantErr != nil {
				require.EqualError(t, err, tt.wantErr.Error())
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, []string{"Aspirin"}, eng.deleted)
		})
	}
}

func TestProcessorUnknownQueue(t *testing.T) {
	p := &Processor{Engine: &fakeEngine{}}
	require.ErrorIs(t, p.Process(context.Background(), "other", []byte("{}")), ErrInvalidMessage)
}
