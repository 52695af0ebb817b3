package leaderboard

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/viurl/verification-engine/internal/store"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) RankTokensEarned(ctx context.Context, since time.Time, limit int) ([]store.Ranked, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Ranked), args.Error(1)
}

func (m *mockSource) RankBalances(ctx context.Context, limit int) ([]store.Ranked, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Ranked), args.Error(1)
}

func (m *mockSource) RankTrustScores(ctx context.Context, limit int) ([]store.Ranked, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Ranked), args.Error(1)
}
