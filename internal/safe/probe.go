package safe

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ProbeResult is the outcome of asking whether an address is a Safe.
type ProbeResult int

const (
	// ProbeUnknown means the question could not be answered (timeouts,
	// service errors). Callers must not treat it as either answer.
	ProbeUnknown ProbeResult = iota
	ProbeSafe
	ProbeNotSafe
)

func (p ProbeResult) String() string {
	switch p {
	case ProbeSafe:
		return "safe"
	case ProbeNotSafe:
		return "not a safe"
	}
	return "unknown"
}

// CodeReader is satisfied by ethclient.Client.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// InfoReader is satisfied by *Client.
type InfoReader interface {
	Info(ctx context.Context, addr common.Address) (Info, error)
}

// Probe checks that addr holds contract code and is known to the service.
// Info is filled only for ProbeSafe.
func Probe(ctx context.Context, code CodeReader, svc InfoReader, addr common.Address) (ProbeResult, Info, error) {
	bytecode, err := code.CodeAt(ctx, addr, nil)
	if err != nil {
		return ProbeUnknown, Info{}, err
	}
	if len(bytecode) == 0 {
		return ProbeNotSafe, Info{}, nil
	}
	if svc == nil {
		return ProbeUnknown, Info{}, errors.New("no safe service configured")
	}
	info, err := svc.Info(ctx, addr)
	switch {
	case errors.Is(err, ErrNotFound):
		return ProbeNotSafe, Info{}, nil
	case err != nil:
		return ProbeUnknown, Info{}, err
	}
	return ProbeSafe, info, nil
}
