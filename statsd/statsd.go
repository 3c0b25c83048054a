// Package statsd wraps the statsd methods the game core emits. It hides the
// datadog dependency so a future migration only needs to edit this file.
package statsd

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}

func Client() ddstatsd.ClientInterface {
	return client
}

// EmitTickStat records how long one part of a match tick took. stage is the
// loop phase, e.g. "advance", "broadcast", or "full_tick".
func EmitTickStat(start time.Time, stage string) {
	duration := time.Since(start)
	if err := Client().Timing("match.tick", duration, []string{stage}, 1); err != nil {
		log.Warn().Msgf("failed to emit tick stat: %v", err)
	}
}

// EmitMatchCount bumps a counter of matches entering the given state
// ("started", "completed", "cancelled").
func EmitMatchCount(state string) {
	if err := Client().Count("match."+state, 1, nil, 1); err != nil {
		log.Warn().Msgf("failed to emit match count: %v", err)
	}
}

// EmitTournamentCount bumps a counter of tournaments entering the given
// state ("started", "completed", "cancelled").
func EmitTournamentCount(state string) {
	if err := Client().Count("tournament."+state, 1, nil, 1); err != nil {
		log.Warn().Msgf("failed to emit tournament count: %v", err)
	}
}

// Init replaces the no-op client with a real one. Leaving the address empty
// keeps metrics disabled.
func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("statsd address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics.
		ddstatsd.WithNamespace("rally"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "failed to create statsd client")
	}
	client = newClient
	return nil
}
