// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mlflow

import (
	"context"
	"testing"
	"time"

	"github.com/cifartrain/cifartrain/pkg/extensions"
	"github.com/cifartrain/cifartrain/pkg/runs"
	"github.com/databricks/databricks-sdk-go/service/ml"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExperiments records the requests it receives.
type fakeExperiments struct {
	created   []ml.CreateRun
	params    []ml.LogParam
	metrics   []ml.LogMetric
	updates   []ml.UpdateRun
	metricErr error

	// createResp, if set, is returned by CreateRun instead of a run with id "run-123".
	createResp *ml.CreateRunResponse
}

func (f *fakeExperiments) CreateRun(_ context.Context, request ml.CreateRun) (*ml.CreateRunResponse, error) {
	f.created = append(f.created, request)
	if f.createResp != nil {
		return f.createResp, nil
	}
	return &ml.CreateRunResponse{Run: &ml.Run{Info: &ml.RunInfo{RunId: "run-123"}}}, nil
}

func (f *fakeExperiments) LogParam(_ context.Context, request ml.LogParam) error {
	f.params = append(f.params, request)
	return nil
}

func (f *fakeExperiments) LogMetric(_ context.Context, request ml.LogMetric) error {
	if f.metricErr != nil {
		return f.metricErr
	}
	f.metrics = append(f.metrics, request)
	return nil
}

func (f *fakeExperiments) UpdateRun(_ context.Context, request ml.UpdateRun) (*ml.UpdateRunResponse, error) {
	f.updates = append(f.updates, request)
	return &ml.UpdateRunResponse{}, nil
}

func newTestTracker() (*Tracker, *fakeExperiments) {
	fake := &fakeExperiments{}
	tracker := NewTracker(fake, "42")
	tracker.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return tracker, fake
}

func TestConfig(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{TrackingURI: "http://localhost:5000"}.Validate())
	assert.NoError(t, Config{TrackingURI: "http://localhost:5000", ExperimentID: "1"}.Validate())

	assert.False(t, Config{TrackingURI: "http://localhost:5000"}.IsDatabricks())
	assert.True(t, Config{TrackingURI: "databricks"}.IsDatabricks())
	assert.True(t, Config{TrackingURI: "databricks://dev"}.IsDatabricks())
	assert.True(t, Config{TrackingURI: "https://abc.cloud.databricks.com/ml"}.IsDatabricks())
	assert.False(t, Config{TrackingURI: "https://mlflow.example.com"}.IsDatabricks())
	assert.Equal(t, "dev", Config{TrackingURI: "databricks://dev/x"}.DatabricksProfile())
	assert.Equal(t, "", Config{TrackingURI: "databricks"}.DatabricksProfile())
}

func TestDatabricksConfig(t *testing.T) {
	dbConfig, err := newDatabricksConfig(Config{TrackingURI: "http://localhost:5000"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", dbConfig.Host)
	assert.Equal(t, dummyToken, dbConfig.Token)

	dbConfig, err = newDatabricksConfig(Config{TrackingURI: "databricks://dev", DatabricksToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "dev", dbConfig.Profile)
	assert.Equal(t, "tok", dbConfig.Token)

	_, err = newDatabricksConfig(Config{TrackingURI: "databricks"})
	assert.Error(t, err)
}

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker, fake := newTestTracker()
	require.NoError(t, tracker.Start(ctx, "20240101T000000_exp", map[string]string{TagRunID: "uuid", TagOutDir: "/tmp/out"}))
	assert.Equal(t, "run-123", tracker.RunID())
	require.Len(t, fake.created, 1)
	assert.Equal(t, "42", fake.created[0].ExperimentId)
	assert.Equal(t, int64(1_700_000_000_000), fake.created[0].StartTime)
	assert.Equal(t, []ml.RunTag{
		{Key: TagOutDir, Value: "/tmp/out"},
		{Key: TagRunID, Value: "uuid"},
		{Key: TagRunName, Value: "20240101T000000_exp"},
	}, fake.created[0].Tags)

	require.NoError(t, tracker.LogParams(ctx, map[string]string{"epoch": "100", "batchsize": "32"}))
	require.Len(t, fake.params, 2)
	assert.Equal(t, ml.LogParam{RunId: "run-123", Key: "batchsize", Value: "32"}, fake.params[0])

	entry := extensions.Entry{Epoch: 1, Iteration: 500, ElapsedTime: 3.5, Values: map[string]float64{"main/loss": 0.8}}
	require.NoError(t, tracker.WriteEntry(entry))
	require.Len(t, fake.metrics, 3)
	for _, metric := range fake.metrics {
		assert.Equal(t, int64(500), metric.Step)
		assert.Equal(t, "run-123", metric.RunId)
	}
	assert.Equal(t, "elapsed_time", fake.metrics[0].Key)
	assert.Equal(t, "epoch", fake.metrics[1].Key)
	assert.Equal(t, "main/loss", fake.metrics[2].Key)
	assert.Equal(t, 0.8, fake.metrics[2].Value)

	require.NoError(t, tracker.End(ctx, nil))
	require.NoError(t, tracker.End(ctx, errors.New("boom")))
	require.Len(t, fake.updates, 2)
	assert.Equal(t, ml.UpdateRunStatusFinished, fake.updates[0].Status)
	assert.Equal(t, ml.UpdateRunStatusFailed, fake.updates[1].Status)
}

func TestEndWithoutStart(t *testing.T) {
	tracker, fake := newTestTracker()
	require.NoError(t, tracker.End(context.Background(), nil))
	assert.Empty(t, fake.updates)
}

func TestStartWithIncompleteResponse(t *testing.T) {
	for _, resp := range []*ml.CreateRunResponse{{}, {Run: &ml.Run{}}} {
		tracker, fake := newTestTracker()
		fake.createResp = resp
		require.NotPanics(t, func() {
			assert.Error(t, tracker.Start(context.Background(), "run", nil))
		})
		assert.Empty(t, tracker.RunID())
	}
}

func TestWriteEntryError(t *testing.T) {
	tracker, fake := newTestTracker()
	fake.metricErr = errors.New("unavailable")
	err := tracker.WriteEntry(extensions.Entry{Values: map[string]float64{"main/loss": 1}})
	assert.ErrorContains(t, err, "unavailable")
}

func TestParamsFromConfig(t *testing.T) {
	params, err := ParamsFromConfig(runs.RunConfig{
		BatchSize:     64,
		Epoch:         200,
		GPU:           -1,
		Out:           "result",
		LRShiftEpochs: []int{100, 150},
		LRShiftRate:   0.1,
		MLflow:        runs.MLflowRef{TrackingURI: "http://localhost:5000", ExperimentID: "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "64", params["batchsize"])
	assert.Equal(t, "200", params["epoch"])
	assert.Equal(t, "-1", params["gpu"])
	assert.Equal(t, "result", params["out"])
	assert.Equal(t, "[100,150]", params["lr_shift_epochs"])
	assert.Equal(t, "0.1", params["lr_shift_rate"])
	assert.Equal(t, "1", params["mlflow.experiment_id"])
	_, found := params["out_suffix"]
	assert.False(t, found)

	// Large seeds, like the clock-derived ones, are kept exactly.
	params, err = ParamsFromConfig(runs.RunConfig{Seed: 1729382256910270464})
	require.NoError(t, err)
	assert.Equal(t, "1729382256910270464", params["seed"])
}
