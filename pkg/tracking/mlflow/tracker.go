// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/cifartrain/cifartrain/pkg/extensions"
	"github.com/cifartrain/cifartrain/pkg/runs"
	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/service/ml"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// TagRunName is the MLflow tag holding the run name.
	TagRunName = "mlflow.runName"

	// TagRunID holds the run id also written to info.json.
	TagRunID = "cifartrain.run_id"

	// TagOutDir holds the local output directory of the run.
	TagOutDir = "cifartrain.out_dir"

	// dummyToken is used with regular MLflow servers, which don't authenticate.
	dummyToken = "dummy-token-for-regular-mlflow"
)

// ExperimentsAPI is the subset of the MLflow experiments service used by Tracker.
// It is implemented by the Experiments field of databricks.WorkspaceClient.
type ExperimentsAPI interface {
	CreateRun(ctx context.Context, request ml.CreateRun) (*ml.CreateRunResponse, error)
	LogParam(ctx context.Context, request ml.LogParam) error
	LogMetric(ctx context.Context, request ml.LogMetric) error
	UpdateRun(ctx context.Context, request ml.UpdateRun) (*ml.UpdateRunResponse, error)
}

// Tracker mirrors one run. It implements extensions.Sink, so it can be added to the report.
type Tracker struct {
	api          ExperimentsAPI
	experimentID string
	runID        string
	now          func() time.Time
}

var _ extensions.Sink = (*Tracker)(nil)

// newDatabricksConfig follows the tracking URI conventions of the MLflow clients.
func newDatabricksConfig(cfg Config) (*databricks.Config, error) {
	if !cfg.IsDatabricks() {
		return &databricks.Config{Host: cfg.TrackingURI, Token: dummyToken}, nil
	}
	dbConfig := &databricks.Config{}
	if cfg.TrackingURI == "databricks" {
		dbConfig.Host = cfg.DatabricksHost
	} else if profile := cfg.DatabricksProfile(); profile != "" {
		dbConfig.Profile = profile
	} else {
		dbConfig.Host = cfg.TrackingURI
	}
	if cfg.DatabricksToken != "" {
		dbConfig.Token = cfg.DatabricksToken
	}
	if dbConfig.Host == "" && dbConfig.Profile == "" {
		return nil, errors.New("Databricks host or profile is required: set DATABRICKS_HOST, " +
			"use a full Databricks URL as tracking URI, or use databricks://<profile>")
	}
	return dbConfig, nil
}

// New connects to the tracking server configured in cfg.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dbConfig, err := newDatabricksConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := databricks.NewWorkspaceClient(dbConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create MLflow client for %q", cfg.TrackingURI)
	}
	return NewTracker(client.Experiments, cfg.ExperimentID), nil
}

// NewTracker creates a Tracker over the given API.
func NewTracker(api ExperimentsAPI, experimentID string) *Tracker {
	return &Tracker{api: api, experimentID: experimentID, now: time.Now}
}

// RunID returns the MLflow id of the run, empty before Start.
func (t *Tracker) RunID() string { return t.runID }

// Start creates the run, with the given name and tags.
func (t *Tracker) Start(ctx context.Context, runName string, tags map[string]string) error {
	runTags := make([]ml.RunTag, 0, len(tags)+1)
	for _, key := range slices.Sorted(maps.Keys(tags)) {
		runTags = append(runTags, ml.RunTag{Key: key, Value: tags[key]})
	}
	runTags = append(runTags, ml.RunTag{Key: TagRunName, Value: runName})
	resp, err := t.api.CreateRun(ctx, ml.CreateRun{
		ExperimentId: t.experimentID,
		RunName:      runName,
		StartTime:    t.now().UnixMilli(),
		Tags:         runTags,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create MLflow run in experiment %q", t.experimentID)
	}
	if resp == nil || resp.Run == nil || resp.Run.Info == nil {
		return errors.New("MLflow server returned no run")
	}
	t.runID = resp.Run.Info.RunId
	klog.V(1).Infof("MLflow run %s created in experiment %s", t.runID, t.experimentID)
	return nil
}

// LogParams logs the params in key order.
func (t *Tracker) LogParams(ctx context.Context, params map[string]string) error {
	for _, key := range slices.Sorted(maps.Keys(params)) {
		err := t.api.LogParam(ctx, ml.LogParam{RunId: t.runID, Key: key, Value: params[key]})
		if err != nil {
			return errors.Wrapf(err, "failed to log MLflow parameter %q", key)
		}
	}
	return nil
}

// WriteEntry logs the entry values as metrics at step = iteration. It implements extensions.Sink.
func (t *Tracker) WriteEntry(entry extensions.Entry) error {
	ctx := context.Background()
	timestamp := t.now().UnixMilli()
	values := maps.Clone(entry.Values)
	if values == nil {
		values = make(map[string]float64)
	}
	values[extensions.KeyEpoch] = float64(entry.Epoch)
	values[extensions.KeyElapsedTime] = entry.ElapsedTime
	for _, key := range slices.Sorted(maps.Keys(values)) {
		err := t.api.LogMetric(ctx, ml.LogMetric{
			RunId:     t.runID,
			Key:       key,
			Value:     values[key],
			Timestamp: timestamp,
			Step:      int64(entry.Iteration),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to log MLflow metric %q", key)
		}
	}
	return nil
}

// End marks the run FINISHED, or FAILED if runErr is not nil. It does nothing if the run was never started.
func (t *Tracker) End(ctx context.Context, runErr error) error {
	if t.runID == "" {
		return nil
	}
	status := ml.UpdateRunStatusFinished
	if runErr != nil {
		status = ml.UpdateRunStatusFailed
	}
	_, err := t.api.UpdateRun(ctx, ml.UpdateRun{
		RunId:   t.runID,
		Status:  status,
		EndTime: t.now().UnixMilli(),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to end MLflow run %q", t.runID)
	}
	return nil
}

// ParamsFromConfig flattens the run configuration into MLflow parameters, keyed as in args.json.
// Nested objects use "parent.child" keys; empty values are skipped.
func ParamsFromConfig(cfg runs.RunConfig) (map[string]string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode run configuration")
	}
	// Numbers are kept as their JSON text: a float64 would round large seeds.
	var generic map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err = decoder.Decode(&generic); err != nil {
		return nil, errors.Wrap(err, "failed to decode run configuration")
	}
	params := make(map[string]string)
	flattenParams(params, "", generic)
	return params, nil
}

func flattenParams(params map[string]string, prefix string, values map[string]any) {
	for key, value := range values {
		fullKey := prefix + key
		switch v := value.(type) {
		case map[string]any:
			flattenParams(params, fullKey+".", v)
		case nil:
		case json.Number:
			params[fullKey] = v.String()
		case string:
			if v != "" {
				params[fullKey] = v
			}
		case []any:
			if len(v) > 0 {
				data, _ := json.Marshal(v)
				params[fullKey] = string(data)
			}
		default:
			params[fullKey] = fmt.Sprint(v)
		}
	}
}
