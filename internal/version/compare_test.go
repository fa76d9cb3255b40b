package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name            string
		engineVersion   string
		strategyVersion string
		expectError     bool
		errorContains   string
	}{
		{
			name:            "exact match",
			engineVersion:   "1.2.0",
			strategyVersion: "1.2.0",
			expectError:     false,
		},
		{
			name:            "engine patch higher",
			engineVersion:   "1.2.1",
			strategyVersion: "1.2.0",
			expectError:     false,
		},
		{
			name:            "strategy patch higher",
			engineVersion:   "1.2.0",
			strategyVersion: "1.2.5",
			expectError:     false,
		},
		{
			name:            "v prefix stripped",
			engineVersion:   "v1.2.0",
			strategyVersion: "1.2.3",
			expectError:     false,
		},
		{
			name:            "minor mismatch",
			engineVersion:   "1.3.0",
			strategyVersion: "1.2.0",
			expectError:     true,
			errorContains:   "minor version mismatch",
		},
		{
			name:            "major mismatch",
			engineVersion:   "2.0.0",
			strategyVersion: "1.2.0",
			expectError:     true,
			errorContains:   "major version mismatch",
		},
		{
			name:            "engine dev build skips check",
			engineVersion:   "main",
			strategyVersion: "1.2.0",
			expectError:     false,
		},
		{
			name:            "strategy dev build skips check",
			engineVersion:   "1.2.0",
			strategyVersion: "main",
			expectError:     false,
		},
		{
			name:            "garbage engine version",
			engineVersion:   "not-a-version",
			strategyVersion: "1.2.0",
			expectError:     true,
			errorContains:   "invalid engine version",
		},
		{
			name:            "garbage strategy version",
			engineVersion:   "1.2.0",
			strategyVersion: "not-a-version",
			expectError:     true,
			errorContains:   "invalid strategy version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCompatibility(tt.engineVersion, tt.strategyVersion)

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
