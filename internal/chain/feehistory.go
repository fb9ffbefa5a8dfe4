package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
)

// FeeHistorySource is satisfied by *ethclient.Client.
type FeeHistorySource interface {
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
}

// RewardStats aggregates the priority fees paid at one percentile.
type RewardStats struct {
	Min *big.Int
	Avg *big.Int
	Max *big.Int
}

// FeeHistoryStats returns min/avg/max tips per percentile over the last
// blocks blocks, plus the base fee of the next block.
func FeeHistoryStats(ctx context.Context, src FeeHistorySource, blocks int, percentiles []int) (map[int]RewardStats, *big.Int, error) {
	if blocks <= 0 {
		blocks = 100
	}
	if len(percentiles) == 0 {
		percentiles = []int{50, 95, 99}
	}
	pf := make([]float64, len(percentiles))
	for i, p := range percentiles {
		pf[i] = float64(p)
	}
	fh, err := src.FeeHistory(ctx, uint64(blocks), nil, pf)
	if err != nil {
		return nil, nil, err
	}
	if len(fh.Reward) == 0 {
		return nil, nil, errors.New("feeHistory: empty reward")
	}

	res := make(map[int]RewardStats, len(percentiles))
	for _, p := range percentiles {
		res[p] = RewardStats{Avg: new(big.Int), Max: new(big.Int)}
	}
	for _, row := range fh.Reward {
		for j := 0; j < len(percentiles) && j < len(row); j++ {
			v := row[j]
			if v == nil {
				continue
			}
			st := res[percentiles[j]]
			if st.Min == nil || v.Cmp(st.Min) < 0 {
				st.Min = new(big.Int).Set(v)
			}
			if v.Cmp(st.Max) > 0 {
				st.Max = new(big.Int).Set(v)
			}
			st.Avg.Add(st.Avg, v)
			res[percentiles[j]] = st
		}
	}
	rows := big.NewInt(int64(len(fh.Reward)))
	for p, st := range res {
		st.Avg.Quo(st.Avg, rows)
		if st.Min == nil {
			st.Min = new(big.Int)
		}
		res[p] = st
	}

	var next *big.Int
	if n := len(fh.BaseFee); n > 0 && fh.BaseFee[n-1] != nil {
		next = new(big.Int).Set(fh.BaseFee[n-1])
	}
	return res, next, nil
}
