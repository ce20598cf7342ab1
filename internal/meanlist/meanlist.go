// Package meanlist implements the bounded, self-down-sampling time series
// used for hardware/IO charts: it never holds more than 20 means, doubling
// its samples-per-mean as it fills so a node's whole uptime compresses into
// a fixed-size slice the feed can render as a sparkline.
package meanlist

// Number is the constraint MeanList values must satisfy.
type Number interface {
	~float32 | ~float64
}

const (
	maxLen          = 20
	rotateFromIndex = 10
	maxTicksPerMean = 32
)

// MeanList is a bounded down-sampling time series. Each slot is a mean of
// ticksPerMean raw samples; when the 20-slot array fills, every consecutive
// pair is folded into one slot (index resets to 10, ticksPerMean doubles up
// to maxTicksPerMean). Once ticksPerMean has saturated at the cap, new means
// instead rotate the array left (FIFO of 20).
type MeanList[T Number] struct {
	values        [maxLen]T
	len           int // number of valid slots, grows to maxLen and stays there
	index         int // next slot to write once len == maxLen
	ticksPerMean  int
	tickCount     int // raw samples folded into the in-progress mean at values[writeSlot]
	current       T   // running sum of the in-progress mean
	writeSlot     int // slot currently being accumulated once full
}

// New returns an empty MeanList.
func New[T Number]() *MeanList[T] {
	return &MeanList[T]{ticksPerMean: 1}
}

// Push folds one raw sample into the series, returning true if doing so
// emitted a brand new mean (as opposed to only updating the in-progress one).
func (m *MeanList[T]) Push(sample T) bool {
	if m.len < maxLen {
		return m.pushGrowing(sample)
	}
	return m.pushFull(sample)
}

func (m *MeanList[T]) pushGrowing(sample T) bool {
	m.current += sample
	m.tickCount++
	if m.tickCount < m.ticksPerMean {
		m.values[m.len] = m.current / T(m.tickCount)
		return false
	}

	m.values[m.len] = m.current / T(m.tickCount)
	m.len++
	m.current = 0
	m.tickCount = 0

	if m.len == maxLen {
		m.foldOrRotatePrepare()
	}
	return true
}

func (m *MeanList[T]) pushFull(sample T) bool {
	if m.writeSlot == maxLen {
		m.fold()
	}
	m.current += sample
	m.tickCount++
	if m.tickCount < m.ticksPerMean {
		m.values[m.writeSlot] = m.current / T(m.tickCount)
		return false
	}

	mean := m.current / T(m.tickCount)
	m.current = 0
	m.tickCount = 0

	if m.ticksPerMean >= maxTicksPerMean {
		m.rotateLeft(mean)
		return true
	}

	m.values[m.writeSlot] = mean
	m.writeSlot++
	return true
}

// foldOrRotatePrepare is called exactly once, the instant the array first
// reaches 20 valid slots: it primes writeSlot for the slow path, so the
// fold itself happens on the next push.
func (m *MeanList[T]) foldOrRotatePrepare() {
	m.writeSlot = maxLen
}

// fold halves the array by averaging consecutive pairs, doubles
// ticksPerMean (capped), and resumes writing from rotateFromIndex.
func (m *MeanList[T]) fold() {
	for i := 0; i < maxLen/2; i++ {
		m.values[i] = (m.values[2*i] + m.values[2*i+1]) / 2
	}
	for i := maxLen / 2; i < maxLen; i++ {
		m.values[i] = 0
	}
	if m.ticksPerMean < maxTicksPerMean {
		m.ticksPerMean *= 2
	}
	m.writeSlot = rotateFromIndex
}

// rotateLeft drops values[0], shifts everything down one, and appends mean
// at the tail — the steady-state FIFO behavior once ticksPerMean is capped.
func (m *MeanList[T]) rotateLeft(mean T) {
	copy(m.values[0:maxLen-1], m.values[1:maxLen])
	m.values[maxLen-1] = mean
}

// Values returns the means, oldest first. Until the list first fills, its
// length equals the number of emitted means; from then on it is always 20
// long, and after a fold the slots past the current write position read as
// zero until new means fill them.
func (m *MeanList[T]) Values() []T {
	n := m.len
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	copy(out, m.values[:n])
	return out
}

// Len reports how many valid means are currently held.
func (m *MeanList[T]) Len() int {
	return m.len
}
