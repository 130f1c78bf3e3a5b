// Package settings loads the session configuration: a JSON metadata file
// plus environment defaults.
package settings

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/navfoundry/ubx2rinex/pkg/msg"
	"github.com/navfoundry/ubx2rinex/pkg/naming"
	"github.com/navfoundry/ubx2rinex/pkg/snapshot"
)

// Settings is the JSON settings file shape.
type Settings struct {
	Marker   string `json:"marker"`
	Country  string `json:"country"`
	Operator string `json:"operator"`
	Agency   string `json:"agency"`
	Receiver string `json:"receiver"`

	NamingMode  string `json:"naming_mode"` // short, long, custom
	CustomName  string `json:"custom_name"`
	Destination string `json:"destination"`

	Period   string `json:"period"`   // daily, hourly, 6h, 12h, or a duration
	Sampling string `json:"sampling"` // duration, e.g. "30s"

	Constellations []string `json:"constellations"`

	Observation bool `json:"observation"`
	Navigation  bool `json:"navigation"`
	RxClock     bool `json:"rx_clock"`
	Crinex      bool `json:"crinex"`
	Gzip        bool `json:"gzip"`
}

// Parse reads and decodes a settings file.
func Parse(path string) (*Settings, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed opening settings file: %w", err)
	}
	defer file.Close()
	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed reading settings file: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(bytes, &s); err != nil {
		return nil, fmt.Errorf("failed parsing settings file: %w", err)
	}
	return &s, nil
}

// Session resolves the naming metadata. Destination falls back to the
// UBX2RINEX_DEST environment value, then the working directory.
func (s *Settings) Session() (naming.Session, error) {
	mode, err := naming.ParseMode(s.NamingMode)
	if err != nil {
		return naming.Session{}, err
	}
	if mode == naming.ModeCustom && s.CustomName == "" {
		return naming.Session{}, fmt.Errorf("custom naming mode requires custom_name")
	}
	dir := s.Destination
	if dir == "" {
		dir = os.Getenv("UBX2RINEX_DEST")
	}
	if dir == "" {
		dir = "."
	}
	sampling, err := s.SamplingPeriod()
	if err != nil {
		return naming.Session{}, err
	}
	return naming.Session{
		Marker:     s.Marker,
		Country:    s.Country,
		Operator:   s.Operator,
		Agency:     s.Agency,
		Receiver:   s.Receiver,
		Mode:       mode,
		CustomName: s.CustomName,
		Dir:        dir,
		Sampling:   sampling,
		Crinex:     s.Crinex,
		Gzip:       s.Gzip,
	}, nil
}

// Policy resolves the snapshot period.
func (s *Settings) Policy() (snapshot.Policy, error) {
	return snapshot.ParsePolicy(s.Period)
}

// SamplingPeriod resolves the measurement interval, 30s by default.
// Anything below the device floor is a configuration error.
func (s *Settings) SamplingPeriod() (time.Duration, error) {
	if s.Sampling == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(s.Sampling)
	if err != nil {
		return 0, fmt.Errorf("invalid sampling period %q: %w", s.Sampling, err)
	}
	if d < snapshot.MinCustomPeriod {
		return 0, fmt.Errorf("sampling period %s below minimum %s", d, snapshot.MinCustomPeriod)
	}
	return d, nil
}

// ConstellationSet resolves the enabled constellations, GPS by default.
func (s *Settings) ConstellationSet() ([]msg.Constellation, error) {
	if len(s.Constellations) == 0 {
		return []msg.Constellation{msg.GPS}, nil
	}
	out := make([]msg.Constellation, 0, len(s.Constellations))
	for _, name := range s.Constellations {
		c, err := msg.ParseConstellation(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// LoadEnv loads a .env file from the working directory when present.
func LoadEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		log.Warn("error loading .env file ", err)
	}
}
