package config

import (
	"testing"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - rules-engine",
			input: "rules-engine",
			expected: map[ServiceMode]bool{
				ServiceModeRulesEngine: true,
			},
			expectError: false,
		},
		{
			name:  "single service - scheduler",
			input: "scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
			},
			expectError: false,
		},
		{
			name:  "multiple services - scheduler and rules-engine",
			input: "scheduler,rules-engine",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler:   true,
				ServiceModeRulesEngine: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "rules-engine,scheduler,alert-runner,secret-refresh-runner,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeRulesEngine:         true,
				ServiceModeScheduler:           true,
				ServiceModeAlertRunner:         true,
				ServiceModeSecretRefreshRunner: true,
				ServiceModeReaper:              true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " rules-engine , scheduler ",
			expected: map[ServiceMode]bool{
				ServiceModeRulesEngine: true,
				ServiceModeScheduler:   true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "scheduler,scheduler,rules-engine",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler:   true,
				ServiceModeRulesEngine: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "scheduler,invalid-service",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "mixed valid and invalid",
			input:       "scheduler,rules-engine,invalid",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_GetEnabledServices(t *testing.T) {
	tests := []struct {
		name        string
		services    string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "default configuration",
			services: "rules-engine,scheduler,alert-runner,secret-refresh-runner,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeRulesEngine:         true,
				ServiceModeScheduler:           true,
				ServiceModeAlertRunner:         true,
				ServiceModeSecretRefreshRunner: true,
				ServiceModeReaper:              true,
			},
			expectError: false,
		},
		{
			name:     "single service",
			services: "rules-engine",
			expected: map[ServiceMode]bool{
				ServiceModeRulesEngine: true,
			},
			expectError: false,
		},
		{
			name:        "invalid configuration",
			services:    "invalid-service",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}
			result, err := cfg.GetEnabledServices()

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name                string
		services            string
		expectedRulesEngine bool
		expectedScheduler   bool
		expectedReaper      bool
		expectedAlertRunner bool
	}{
		{
			name:                "rules-engine only",
			services:            "rules-engine",
			expectedRulesEngine: true,
			expectedScheduler:   false,
			expectedReaper:      false,
			expectedAlertRunner: false,
		},
		{
			name:                "rules-engine and scheduler",
			services:            "rules-engine,scheduler",
			expectedRulesEngine: true,
			expectedScheduler:   true,
			expectedReaper:      false,
			expectedAlertRunner: false,
		},
		{
			name:                "all services",
			services:            "rules-engine,scheduler,reaper,alert-runner",
			expectedRulesEngine: true,
			expectedScheduler:   true,
			expectedReaper:      true,
			expectedAlertRunner: true,
		},
		{
			name:                "scheduler only",
			services:            "scheduler",
			expectedRulesEngine: false,
			expectedScheduler:   true,
			expectedReaper:      false,
			expectedAlertRunner: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsRulesEngineEnabled() != tt.expectedRulesEngine {
				t.Errorf(
					"IsRulesEngineEnabled(): expected %v, got %v",
					tt.expectedRulesEngine,
					cfg.IsRulesEngineEnabled(),
				)
			}

			if cfg.IsSchedulerEnabled() != tt.expectedScheduler {
				t.Errorf("IsSchedulerEnabled(): expected %v, got %v", tt.expectedScheduler, cfg.IsSchedulerEnabled())
			}

			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.expectedReaper, cfg.IsReaperEnabled())
			}

			if cfg.IsAlertRunnerEnabled() != tt.expectedAlertRunner {
				t.Errorf(
					"IsAlertRunnerEnabled(): expected %v, got %v",
					tt.expectedAlertRunner,
					cfg.IsAlertRunnerEnabled(),
				)
			}
		})
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{Services: "invalid-service"}

	// All methods should return false when configuration is invalid
	if cfg.IsRulesEngineEnabled() != false {
		t.Errorf("IsRulesEngineEnabled() with invalid config: expected false, got true")
	}

	if cfg.IsSchedulerEnabled() != false {
		t.Errorf("IsSchedulerEnabled() with invalid config: expected false, got true")
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{
		ServiceModeRulesEngine,
		ServiceModeScheduler,
		ServiceModeReaper,
		ServiceModeAlertRunner,
		ServiceModeSecretRefreshRunner,
	}

	if len(modes) != len(expected) {
		t.Errorf("expected %d service modes, got %d", len(expected), len(modes))
	}

	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
			Channel:    "  ",
			Username:   "",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: " ",
			Source:     "",
			Component:  "",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled without a routing key")
	}
	if cfg.PagerDuty.Source != "siteward" {
		t.Fatalf("expected pagerduty source default, got %q", cfg.PagerDuty.Source)
	}
	if cfg.PagerDuty.Component != "siteward" {
		t.Fatalf("expected pagerduty component default, got %q", cfg.PagerDuty.Component)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "abc",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled when top-level notifications disabled")
	}
}
