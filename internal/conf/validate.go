package conf

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidateSettings checks the loaded settings for values the rest of the
// application cannot recover from at runtime.
func ValidateSettings(settings *Settings) error {
	var errs []string

	if settings.WebServer.Enabled {
		if port, err := strconv.Atoi(settings.WebServer.Port); err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("invalid web server port: %q", settings.WebServer.Port))
		}
	}

	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		errs = append(errs, "no database output enabled, enable either sqlite or mysql")
	}
	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		errs = append(errs, "both sqlite and mysql outputs enabled, enable only one")
	}

	if settings.Session.DefaultMaxSize < 1 {
		errs = append(errs, "session.defaultmaxsize must be at least 1")
	}
	if settings.Session.DefaultTableCount < 1 {
		errs = append(errs, "session.defaulttablecount must be at least 1")
	}

	if settings.Speech.Provider != "deepgram" {
		errs = append(errs, fmt.Sprintf("unsupported speech provider: %q", settings.Speech.Provider))
	}
	if settings.Speech.SampleRate <= 0 {
		errs = append(errs, "speech.samplerate must be positive")
	}
	if settings.Speech.Channels <= 0 {
		errs = append(errs, "speech.channels must be positive")
	}
	if settings.Speech.MinConfidence < 0 || settings.Speech.MinConfidence > 1 {
		errs = append(errs, "speech.minconfidence must be between 0 and 1")
	}
	if _, err := time.ParseDuration(settings.Speech.ReconnectDelay); err != nil {
		errs = append(errs, fmt.Sprintf("invalid speech.reconnectdelay: %q", settings.Speech.ReconnectDelay))
	}

	if settings.Realtime.SubscriberBuffer < 1 {
		errs = append(errs, "realtime.subscriberbuffer must be at least 1")
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		errs = append(errs, "sentry enabled but no DSN configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ReconnectDelayDuration returns the parsed reconnect delay, defaulting to 2s.
func (s *SpeechSettings) ReconnectDelayDuration() time.Duration {
	d, err := time.ParseDuration(s.ReconnectDelay)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}
