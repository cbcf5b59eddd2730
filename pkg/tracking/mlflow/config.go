// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mlflow mirrors a training run to an MLflow tracking server (a plain MLflow server or
// Databricks): the run configuration is logged as parameters, each report entry as metrics, and
// the run is closed as FINISHED or FAILED.
package mlflow

import (
	"strings"

	"github.com/pkg/errors"
)

// Databricks domain suffixes for URL detection.
var databricksDomains = []string{
	".cloud.databricks.com",
	".azuredatabricks.net",
	".gcp.databricks.com",
}

// Config of the tracking server connection.
type Config struct {
	TrackingURI     string
	ExperimentID    string
	DatabricksHost  string
	DatabricksToken string
}

// Validate checks the required fields are set.
func (c Config) Validate() error {
	if c.TrackingURI == "" {
		return errors.New("MLflow tracking URI is required")
	}
	if c.ExperimentID == "" {
		return errors.New("MLflow experiment ID is required")
	}
	return nil
}

// IsDatabricks reports whether the tracking URI points to Databricks: "databricks",
// "databricks://<profile>" or an https URL on a Databricks domain.
func (c Config) IsDatabricks() bool {
	if c.TrackingURI == "databricks" || strings.HasPrefix(c.TrackingURI, "databricks://") {
		return true
	}
	if !strings.HasPrefix(c.TrackingURI, "https://") {
		return false
	}
	host := strings.TrimPrefix(c.TrackingURI, "https://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	for _, domain := range databricksDomains {
		if strings.HasSuffix(host, domain) {
			return true
		}
	}
	return false
}

// DatabricksProfile extracts the profile name from a "databricks://<profile>" URI.
func (c Config) DatabricksProfile() string {
	if !strings.HasPrefix(c.TrackingURI, "databricks://") {
		return ""
	}
	profile := strings.TrimPrefix(c.TrackingURI, "databricks://")
	if idx := strings.Index(profile, "/"); idx != -1 {
		profile = profile[:idx]
	}
	return profile
}
