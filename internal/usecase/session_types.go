package usecase

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// listenSession is the per-attempt state. It is owned by the loop goroutine
// and never shared.
type listenSession struct {
	id      string
	latched bool
	log     zerolog.Logger
}

func newListenSession(parent zerolog.Logger) *listenSession {
	id := uuid.NewString()
	return &listenSession{
		id:  id,
		log: parent.With().Str("session", id).Logger(),
	}
}
