package evloop

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"os"
)

// RaiseOpenFilesLimit lifts the soft RLIMIT_NOFILE up to want, bounded by
// the hard limit. The resulting soft limit is returned.
func RaiseOpenFilesLimit(want uint64) (uint64, error) {
	limit := &unix.Rlimit{}
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, limit); err != nil {
		return 0, os.NewSyscallError("getrlimit", err)
	}
	if want > limit.Max {
		want = limit.Max
	}
	if limit.Cur >= want {
		return limit.Cur, nil
	}
	err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{
		Cur: want,
		Max: limit.Max,
	})
	if err != nil {
		return limit.Cur, os.NewSyscallError("setrlimit", err)
	}
	log.Info().Msgf("open files limit raised from %d to %d", limit.Cur, want)
	return want, nil
}
