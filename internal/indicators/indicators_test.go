package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA(t *testing.T) {
	t.Run("constant series", func(t *testing.T) {
		prices := make([]float64, 50)
		for i := range prices {
			prices[i] = 100
		}
		ema, err := EMA(prices, 20)
		require.NoError(t, err)
		assert.InDelta(t, 100, ema, 1e-9)
	})

	t.Run("tracks a rising series", func(t *testing.T) {
		prices := make([]float64, 60)
		for i := range prices {
			prices[i] = 100 + float64(i)
		}
		ema, err := EMA(prices, 20)
		require.NoError(t, err)
		// EMA lags the last price but stays within one period of it.
		last := prices[len(prices)-1]
		assert.Less(t, ema, last)
		assert.Greater(t, ema, last-20)
	})

	t.Run("insufficient data", func(t *testing.T) {
		_, err := EMA([]float64{1, 2, 3}, 20)
		assert.Error(t, err)
	})

	t.Run("invalid period", func(t *testing.T) {
		_, err := EMA([]float64{1, 2, 3}, 0)
		assert.Error(t, err)
	})
}

func TestRSI(t *testing.T) {
	t.Run("all gains saturates to 100", func(t *testing.T) {
		prices := make([]float64, 30)
		for i := range prices {
			prices[i] = 100 + float64(i)
		}
		rsi, err := RSI(prices, 14)
		require.NoError(t, err)
		assert.InDelta(t, 100, rsi, 1e-9)
	})

	t.Run("all losses approaches 0", func(t *testing.T) {
		prices := make([]float64, 30)
		for i := range prices {
			prices[i] = 200 - float64(i)
		}
		rsi, err := RSI(prices, 14)
		require.NoError(t, err)
		assert.InDelta(t, 0, rsi, 1e-9)
	})

	t.Run("alternating series is near neutral", func(t *testing.T) {
		prices := make([]float64, 40)
		for i := range prices {
			if i%2 == 0 {
				prices[i] = 100
			} else {
				prices[i] = 101
			}
		}
		rsi, err := RSI(prices, 14)
		require.NoError(t, err)
		assert.InDelta(t, 50, rsi, 10)
	})

	t.Run("insufficient data", func(t *testing.T) {
		_, err := RSI(make([]float64, 14), 14)
		assert.Error(t, err)
	})
}

func TestATR(t *testing.T) {
	t.Run("constant range", func(t *testing.T) {
		n := 30
		highs := make([]float64, n)
		lows := make([]float64, n)
		closes := make([]float64, n)
		for i := 0; i < n; i++ {
			highs[i] = 102
			lows[i] = 98
			closes[i] = 100
		}
		atr, err := ATR(highs, lows, closes, 14)
		require.NoError(t, err)
		assert.InDelta(t, 4, atr, 1e-9)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := ATR(make([]float64, 20), make([]float64, 19), make([]float64, 20), 14)
		assert.Error(t, err)
	})

	t.Run("insufficient data", func(t *testing.T) {
		_, err := ATR(make([]float64, 10), make([]float64, 10), make([]float64, 10), 14)
		assert.Error(t, err)
	})
}

func TestADX(t *testing.T) {
	t.Run("strong one-way trend scores high", func(t *testing.T) {
		n := 80
		highs := make([]float64, n)
		lows := make([]float64, n)
		closes := make([]float64, n)
		for i := 0; i < n; i++ {
			base := 100 + 2*float64(i)
			highs[i] = base + 1
			lows[i] = base - 1
			closes[i] = base
		}
		adx, err := ADX(highs, lows, closes, 14)
		require.NoError(t, err)
		assert.Greater(t, adx, 60.0, "persistent trend should score high ADX, got %f", adx)
		assert.LessOrEqual(t, adx, 100.0)
	})

	t.Run("choppy range scores low", func(t *testing.T) {
		n := 80
		highs := make([]float64, n)
		lows := make([]float64, n)
		closes := make([]float64, n)
		for i := 0; i < n; i++ {
			// Oscillates with no directional persistence.
			base := 100 + 3*math.Sin(float64(i))
			highs[i] = base + 1
			lows[i] = base - 1
			closes[i] = base
		}
		adx, err := ADX(highs, lows, closes, 14)
		require.NoError(t, err)
		assert.Less(t, adx, 40.0, "choppy series should score low ADX, got %f", adx)
	})

	t.Run("insufficient data", func(t *testing.T) {
		_, err := ADX(make([]float64, 28), make([]float64, 28), make([]float64, 28), 14)
		assert.Error(t, err)
	})
}

func TestVolumeEMA(t *testing.T) {
	vols := make([]float64, 40)
	for i := range vols {
		vols[i] = 1000
	}
	v, err := VolumeEMA(vols, 20)
	require.NoError(t, err)
	assert.InDelta(t, 1000, v, 1e-9)

	_, err = VolumeEMA(vols[:5], 20)
	assert.Error(t, err)
}
