package descriptor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrTimelockNotNumber is returned when the timelock is not an integer.
	ErrTimelockNotNumber = errors.New("timelock must be a number")

	// ErrTimelockNotPositive is returned for a zero or negative timelock.
	ErrTimelockNotPositive = errors.New("timelock must be positive")

	// ErrTimelockTooLarge is returned when the timelock does not fit the
	// 16 bit relative locktime block count.
	ErrTimelockTooLarge = errors.New("timelock exceeds the maximum " +
		"relative locktime")
)

// MaxTimelock is the largest block count a relative locktime can encode.
const MaxTimelock = math.MaxUint16

// ParseTimelock parses the number of confirmations after which the heir can
// spend. The kind of failure is distinguishable through the returned
// sentinel error.
func ParseTimelock(text string) (uint16, error) {
	text = strings.TrimSpace(text)

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) &&
			errors.Is(numErr.Err, strconv.ErrRange) {

			// A syntactically valid integer out of int64 range:
			// classify by sign.
			if strings.HasPrefix(text, "-") {
				return 0, ErrTimelockNotPositive
			}

			return 0, ErrTimelockTooLarge
		}

		return 0, fmt.Errorf("%w: %q", ErrTimelockNotNumber, text)
	}

	switch {
	case n <= 0:
		return 0, fmt.Errorf("%w: got %d", ErrTimelockNotPositive, n)

	case n > MaxTimelock:
		return 0, fmt.Errorf("%w: got %d, max %d", ErrTimelockTooLarge,
			n, MaxTimelock)
	}

	return uint16(n), nil
}
