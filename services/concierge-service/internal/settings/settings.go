package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptconcierge/libs/config"
)

const DefaultAmountMinor int64 = 5000

type Service struct {
	Name        string
	AmountMinor int64
}

// Business holds the business facts the resolver and the lifecycle need.
type Business struct {
	Name          string
	Services      []Service
	DefaultAmount int64
	Location      *time.Location
}

func FromEnv() (Business, error) {
	services, err := ParseServices(config.String("SERVICES", ""))
	if err != nil {
		return Business{}, err
	}
	amount := int64(config.Int("DEFAULT_AMOUNT_MINOR", int(DefaultAmountMinor)))
	if amount <= 0 {
		return Business{}, fmt.Errorf("DEFAULT_AMOUNT_MINOR must be positive (got %d)", amount)
	}
	tz := config.String("BUSINESS_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Business{}, fmt.Errorf("BUSINESS_TIMEZONE: %w", err)
	}
	return Business{
		Name:          config.String("BUSINESS_NAME", "Our office"),
		Services:      services,
		DefaultAmount: amount,
		Location:      loc,
	}, nil
}

// ParseServices reads "Consult:5000,Cleaning:8000". A name without a price is rejected.
func ParseServices(raw string) ([]Service, error) {
	var out []Service
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, price, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid service entry %q", part)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(price), 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("invalid price for service %q", name)
		}
		out = append(out, Service{Name: name, AmountMinor: amount})
	}
	return out, nil
}

// MatchService tries a case-insensitive exact name first, then containment in either direction.
func (b Business) MatchService(text string) (Service, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return Service{}, false
	}
	for _, s := range b.Services {
		if strings.ToLower(s.Name) == needle {
			return s, true
		}
	}
	for _, s := range b.Services {
		name := strings.ToLower(s.Name)
		if strings.Contains(needle, name) || strings.Contains(name, needle) {
			return s, true
		}
	}
	return Service{}, false
}

func (b Business) ServiceNames() []string {
	names := make([]string, 0, len(b.Services))
	for _, s := range b.Services {
		names = append(names, s.Name)
	}
	return names
}

func (b Business) Loc() *time.Location {
	if b.Location == nil {
		return time.UTC
	}
	return b.Location
}
