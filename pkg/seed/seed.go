// Package seed owns the process-wide random source.
package seed

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"
)

// Environment variables exported by Everything for worker processes.
const (
	EnvGlobalSeed  = "PL_GLOBAL_SEED"
	EnvSeedWorkers = "PL_SEED_WORKERS"
)

// Seeds must fit in an unsigned 32-bit integer.
const (
	MinSeed = 0
	MaxSeed = math.MaxUint32
)

// ErrOutOfRange is returned for seeds outside [MinSeed, MaxSeed].
var ErrOutOfRange = errors.New("seed out of range")

type lockedSource struct {
	mu  sync.Mutex
	src rand.Source64
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

func (s *lockedSource) Seed(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(v)
}

var (
	source = &lockedSource{src: rand.NewSource(time.Now().UnixNano()).(rand.Source64)}
	global = rand.New(source)
)

// Everything reseeds the process-wide source and exports the seed so worker processes can derive
// theirs. Call it once, before any component consumes randomness.
func Everything(seed int64, workers bool) error {
	if seed < MinSeed || seed > MaxSeed {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, seed, MinSeed, int64(MaxSeed))
	}
	source.Seed(seed)
	if err := os.Setenv(EnvGlobalSeed, strconv.FormatInt(seed, 10)); err != nil {
		return err
	}
	flag := "0"
	if workers {
		flag = "1"
	}
	return os.Setenv(EnvSeedWorkers, flag)
}

// Rand returns the process-wide random source. It is safe for concurrent use.
func Rand() *rand.Rand { return global }
