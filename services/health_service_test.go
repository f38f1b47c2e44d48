package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/go-redis/redismock/v9"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthService_CheckHealth(t *testing.T) {
	tests := []struct {
		name           string
		setupMocks     func(pgxmock.PgxPoolIface, redismock.ClientMock)
		expectedStatus types.HealthStatus
		expectedComps  map[string]types.HealthStatus
	}{
		{
			name: "all healthy",
			setupMocks: func(dbMock pgxmock.PgxPoolIface, redisMock redismock.ClientMock) {
				dbMock.ExpectPing()
				redisMock.ExpectPing().SetVal("PONG")
			},
			expectedStatus: types.HealthStatusUp,
			expectedComps: map[string]types.HealthStatus{
				"database": types.HealthStatusUp,
				"redis":    types.HealthStatusUp,
			},
		},
		{
			name: "database down",
			setupMocks: func(dbMock pgxmock.PgxPoolIface, redisMock redismock.ClientMock) {
				dbMock.ExpectPing().WillReturnError(errors.New("connection refused"))
				redisMock.ExpectPing().SetVal("PONG")
			},
			expectedStatus: types.HealthStatusDown,
			expectedComps: map[string]types.HealthStatus{
				"database": types.HealthStatusDown,
				"redis":    types.HealthStatusUp,
			},
		},
		{
			name: "redis down",
			setupMocks: func(dbMock pgxmock.PgxPoolIface, redisMock redismock.ClientMock) {
				dbMock.ExpectPing()
				redisMock.ExpectPing().SetErr(errors.New("redis connection failed"))
			},
			expectedStatus: types.HealthStatusDown,
			expectedComps: map[string]types.HealthStatus{
				"database": types.HealthStatusUp,
				"redis":    types.HealthStatusDown,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mockDB.Close()

			redisClient, redisMock := redismock.NewClientMock()
			tt.setupMocks(mockDB, redisMock)

			service := NewHealthService(mockDB, redisClient, "1.0.0")
			service.startTime = time.Now().Add(-10 * time.Minute)

			result := service.CheckHealth(context.Background())

			assert.Equal(t, tt.expectedStatus, result.Status)
			assert.Equal(t, "1.0.0", result.Version)
			assert.NotEmpty(t, result.Timestamp)
			assert.Equal(t, "10m0s", result.Uptime)
			for comp, status := range tt.expectedComps {
				assert.Equal(t, status, result.Components[comp].Status, comp)
			}

			require.NoError(t, mockDB.ExpectationsWereMet())
			require.NoError(t, redisMock.ExpectationsWereMet())
		})
	}
}

func TestHealthService_HostedBackendSkipsDatabase(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	redisMock.ExpectPing().SetVal("PONG")

	service := NewHealthService(nil, redisClient, "1.0.0")
	service.SetRealtimeCounters(func() int { return 3 }, func() int { return 4 })

	result := service.CheckHealth(context.Background())
	assert.Equal(t, types.HealthStatusUp, result.Status)
	_, hasDB := result.Components["database"]
	assert.False(t, hasDB)
	require.NotNil(t, result.Realtime)
	assert.Equal(t, 3, result.Realtime.ActiveSessions)
	assert.Equal(t, 4, result.Realtime.ActiveSubscriptions)
}

func TestHealthService_NoRedisIsDegraded(t *testing.T) {
	service := NewHealthService(nil, nil, "1.0.0")
	result := service.CheckHealth(context.Background())
	assert.Equal(t, types.HealthStatusDegraded, result.Status)
	assert.Nil(t, result.Realtime)
}
