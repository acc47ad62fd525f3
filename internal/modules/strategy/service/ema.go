package service

type emaState struct {
	period int
	alpha  float64
	value  float64
	warmup int
}

func newEMA(period int) emaState {
	if period <= 1 {
		period = 1
	}
	return emaState{
		period: period,
		alpha:  2.0 / (float64(period) + 1),
	}
}

func (e *emaState) Update(price float64) {
	if e.warmup == 0 {
		e.value = price
		e.warmup = 1
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	if e.warmup < e.period {
		e.warmup++
	}
}

func (e *emaState) Ready() bool    { return e.warmup >= e.period }
func (e *emaState) Value() float64 { return e.value }

// rsiState — RSI со сглаживанием Уайлдера.
type rsiState struct {
	period      int
	prev        float64
	avgGain     float64
	avgLoss     float64
	samples     int
	initialized bool
}

func newRSI(period int) rsiState {
	if period < 1 {
		period = 1
	}
	return rsiState{period: period}
}

func (s *rsiState) Update(price float64) {
	if !s.initialized {
		s.prev = price
		s.initialized = true
		return
	}
	change := price - s.prev
	s.prev = price

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	s.samples++
	if s.samples <= s.period {
		// первые period изменений: простое среднее
		n := float64(s.samples)
		s.avgGain += (gain - s.avgGain) / n
		s.avgLoss += (loss - s.avgLoss) / n
		return
	}
	alpha := 1.0 / float64(s.period)
	s.avgGain = (1-alpha)*s.avgGain + alpha*gain
	s.avgLoss = (1-alpha)*s.avgLoss + alpha*loss
}

func (s *rsiState) Ready() bool { return s.samples >= s.period }

func (s *rsiState) Value() float64 {
	if s.avgLoss == 0 {
		if s.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := s.avgGain / s.avgLoss
	return 100 - 100/(1+rs)
}
