package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/pitch-labs/internal/domain"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.msgs == nil {
		f.msgs = make(map[string][][]byte)
	}
	f.msgs[subject] = append(f.msgs[subject], data)
	return nil
}

func testRecord(tier domain.Tier) *domain.SessionRecord {
	final := 64
	return &domain.SessionRecord{
		Session: &domain.Session{ID: "s-1", UserID: "anon_1", Tier: tier, Gauge: final, EndType: domain.EndUser},
		Report:  &domain.Report{SessionID: "s-1", Tier: tier, Score: 55, FinalGauge: &final},
	}
}

func TestNATSPublishesPerTierSubject(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATS(pub, "", nil)

	require.NoError(t, n.PersistSession(context.Background(), testRecord(domain.TierExpert)))

	msgs := pub.msgs["pitchlabs.sessions.ended.expert"]
	require.Len(t, msgs, 1)

	var got domain.SessionRecord
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, "s-1", got.Session.ID)
	require.NotNil(t, got.Report.FinalGauge)
	assert.Equal(t, 64, *got.Report.FinalGauge)
}

func TestNATSCustomSubject(t *testing.T) {
	n := NewNATS(&fakePublisher{}, "acme.training", nil)
	assert.Equal(t, "acme.training.easy", n.Subject(domain.TierEasy))
}

func TestNATSErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection closed")}
	n := NewNATS(pub, "", nil)

	err := n.PersistSession(context.Background(), testRecord(domain.TierMedium))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pitchlabs.sessions.ended.medium")

	assert.Error(t, n.PersistSession(context.Background(), &domain.SessionRecord{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewNATS(&fakePublisher{}, "", nil).PersistSession(ctx, testRecord(domain.TierEasy)), context.Canceled)
}

func TestNATSCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, NewNATS(&fakePublisher{}, "", nil).Close())
}

type sinkFunc func(ctx context.Context, rec *domain.SessionRecord) error

func (f sinkFunc) PersistSession(ctx context.Context, rec *domain.SessionRecord) error {
	return f(ctx, rec)
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	var calls []string
	first := errors.New("disk full")
	f := Fanout{
		sinkFunc(func(context.Context, *domain.SessionRecord) error {
			calls = append(calls, "store")
			return first
		}),
		nil,
		sinkFunc(func(context.Context, *domain.SessionRecord) error {
			calls = append(calls, "nats")
			return nil
		}),
	}

	err := f.PersistSession(context.Background(), testRecord(domain.TierEasy))
	assert.ErrorIs(t, err, first)
	assert.Equal(t, []string{"store", "nats"}, calls)

	assert.NoError(t, Fanout{}.PersistSession(context.Background(), testRecord(domain.TierEasy)))
}
