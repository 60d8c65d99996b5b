package rsfec

import "github.com/pkg/errors"

// Systematic (n,k) Reed-Solomon codec over GF(2^8), n = k+m, k+m <= 255.
// Root spacing prim=1, first consecutive root alpha^0 (root index 0): the
// generator polynomial is g(x) = Prod_{i=0}^{m-1} (x - alpha^i). Building the code
// this way for n=k+m directly is equivalent to taking the shortened
// RS(255, 255-m) code and dropping the 255-(k+m) leading zero message
// positions spec.md calls the "shortening pad" -- both constructions
// produce the same codeword, so encode/decode below work on n=k+m without
// a separate padding step.
//
// ErrTooManyErasures and ErrDecodeFailed are the two ways decode can fail;
// see Codec.Decode.
var (
	ErrTooManyErasures = errors.New("rsfec: more erasures than parity can correct")
	ErrDecodeFailed    = errors.New("rsfec: erasure decode failed (singular recovery matrix)")
)

// Codec is a Reed-Solomon (k+m, k) systematic encoder/decoder. One Codec
// instance has no state tied to a particular block and may serve both the
// send and the receive path concurrently.
type Codec struct {
	k, m int

	// generator polynomial, low-degree-first, m+1 coefficients (gen[m]==1).
	gen []byte

	// generator polynomial without its leading (always-1) coefficient,
	// ordered high-degree first, used by the LFSR-style systematic
	// encode below.
	genHigh []byte

	// systematic generator matrix, k rows by n=k+m columns; row i is the
	// codeword produced by encoding the unit message with a single 1 at
	// position i. Columns [0,k) are the identity matrix by construction.
	matrix [][]byte
}

// NewCodec builds the generator polynomial and the systematic generator
// matrix for a (k+m, k) code. It fails only on out-of-range parameters;
// once built, a Codec's tables are immutable.
func NewCodec(k, m int) (*Codec, error) {
	if k <= 0 || m <= 0 {
		return nil, errors.Errorf("rsfec: k and m must be positive, got k=%d m=%d", k, m)
	}
	if k+m > 255 {
		return nil, errors.Errorf("rsfec: k+m must not exceed 255, got %d", k+m)
	}

	gfTables()

	c := &Codec{k: k, m: m}
	c.gen = buildGenerator(m)

	c.genHigh = make([]byte, m)
	for i := 0; i < m; i++ {
		c.genHigh[i] = c.gen[m-1-i]
	}

	c.matrix = make([][]byte, k)
	unit := make([]byte, k)
	for i := 0; i < k; i++ {
		for j := range unit {
			unit[j] = 0
		}
		unit[i] = 1
		parity := make([]byte, m)
		c.encodeColumn(unit, parity)

		row := make([]byte, k+m)
		row[i] = 1
		copy(row[k:], parity)
		c.matrix[i] = row
	}

	return c, nil
}

// buildGenerator constructs g(x) = Prod_{i=0}^{m-1} (x - alpha^i), returning
// its m+1 coefficients low-degree-first (constant term first, leading
// coefficient, always 1, last).
func buildGenerator(m int) []byte {
	gen := []byte{1}
	for i := 0; i < m; i++ {
		root := gfPow(i)
		next := make([]byte, len(gen)+1)
		for j, c := range gen {
			next[j] = gfAdd(next[j], gfMul(c, root))
			next[j+1] = gfAdd(next[j+1], c)
		}
		gen = next
	}
	return gen
}

// encodeColumn computes the m parity symbols for a single k-symbol message
// column via synthetic division by the generator polynomial -- the
// standard LFSR-equivalent systematic Reed-Solomon encode.
func (c *Codec) encodeColumn(msg []byte, parity []byte) {
	m := c.m
	reg := make([]byte, len(msg)+m)
	copy(reg, msg)
	for i := 0; i < len(msg); i++ {
		coef := reg[i]
		if coef != 0 {
			for j := 0; j < m; j++ {
				reg[i+1+j] = gfAdd(reg[i+1+j], gfMul(c.genHigh[j], coef))
			}
		}
	}
	copy(parity, reg[len(msg):])
}

// K returns the number of source (data) shards.
func (c *Codec) K() int { return c.k }

// M returns the number of parity shards.
func (c *Codec) M() int { return c.m }

// N returns the total shards per block, K()+M().
func (c *Codec) N() int { return c.k + c.m }

// Encode computes c.M() parity shards from k data shards, column-wise: all
// shards (data and parity) must have the same length. data must have
// length K(); parity must have length M() and pre-sized shard buffers of
// the same length as data[0].
func (c *Codec) Encode(data [][]byte, parity [][]byte) error {
	if len(data) != c.k {
		return errors.Errorf("rsfec: Encode expects %d data shards, got %d", c.k, len(data))
	}
	if len(parity) != c.m {
		return errors.Errorf("rsfec: Encode expects %d parity shards, got %d", c.m, len(parity))
	}
	if c.k == 0 {
		return nil
	}
	l := len(data[0])
	for _, d := range data {
		if len(d) != l {
			return errors.New("rsfec: Encode requires all data shards to share one length")
		}
	}
	for _, p := range parity {
		if len(p) != l {
			return errors.New("rsfec: Encode requires parity shard buffers sized to match data shards")
		}
	}

	msgCol := make([]byte, c.k)
	parCol := make([]byte, c.m)
	for col := 0; col < l; col++ {
		for i := 0; i < c.k; i++ {
			msgCol[i] = data[i][col]
		}
		c.encodeColumn(msgCol, parCol)
		for j := 0; j < c.m; j++ {
			parity[j][col] = parCol[j]
		}
	}
	return nil
}

// Decode reconstructs a codeword of n=K()+M() shards given the positions
// that are erased (unknown). codeword[i] for i in erased is overwritten
// with byte(0) on entry is not required -- the implementation zeroes it
// itself -- and, on success, holds the corrected value on return. Non-erased
// positions are trusted verbatim and left untouched. If len(erased) >
// M(), ErrTooManyErasures is returned and codeword is left unmodified. A
// decode failure despite len(erased) <= M() (a singular recovery matrix,
// which a valid erasure set never produces) returns ErrDecodeFailed.
func (c *Codec) Decode(codeword [][]byte, erased []int) error {
	n := c.k + c.m
	if len(codeword) != n {
		return errors.Errorf("rsfec: Decode expects %d shards, got %d", n, len(codeword))
	}
	if len(erased) > c.m {
		return ErrTooManyErasures
	}
	if len(erased) == 0 {
		return nil
	}

	erasedSet := make(map[int]bool, len(erased))
	for _, e := range erased {
		if e < 0 || e >= n {
			return errors.Errorf("rsfec: erasure position %d out of range [0,%d)", e, n)
		}
		erasedSet[e] = true
	}

	l := 0
	for i := 0; i < n; i++ {
		if !erasedSet[i] {
			l = len(codeword[i])
			break
		}
	}
	for i := 0; i < n; i++ {
		if erasedSet[i] {
			codeword[i] = make([]byte, l)
		} else if len(codeword[i]) != l {
			return errors.New("rsfec: Decode requires all surviving shards to share one length")
		}
	}

	// survivors, ascending; the first k of them pick an invertible k x k
	// submatrix of the systematic generator matrix because any k columns
	// of an MDS code's generator matrix are independent.
	survivors := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !erasedSet[i] {
			survivors = append(survivors, i)
		}
	}
	if len(survivors) < c.k {
		return ErrTooManyErasures
	}
	survivors = survivors[:c.k]

	a := make([][]byte, c.k)
	for row := 0; row < c.k; row++ {
		a[row] = make([]byte, c.k)
		for col := 0; col < c.k; col++ {
			a[row][col] = c.matrix[row][survivors[col]]
		}
	}
	inv, err := gfInvertMatrix(a)
	if err != nil {
		return ErrDecodeFailed
	}

	message := make([][]byte, c.k)
	for i := range message {
		message[i] = make([]byte, l)
	}
	known := make([]byte, c.k)
	msgCol := make([]byte, c.k)
	for col := 0; col < l; col++ {
		for r, s := range survivors {
			known[r] = codeword[s][col]
		}
		for i := 0; i < c.k; i++ {
			var sum byte
			for r := 0; r < c.k; r++ {
				sum = gfAdd(sum, gfMul(known[r], inv[r][i]))
			}
			msgCol[i] = sum
		}
		for i := 0; i < c.k; i++ {
			message[i][col] = msgCol[i]
		}
	}

	for i := 0; i < c.k; i++ {
		if erasedSet[i] {
			copy(codeword[i], message[i])
		}
	}
	if parityErased(erasedSet, c.k, n) {
		parity := make([][]byte, c.m)
		for j := range parity {
			parity[j] = make([]byte, l)
		}
		if err := c.Encode(message, parity); err != nil {
			return err
		}
		for j := 0; j < c.m; j++ {
			if erasedSet[c.k+j] {
				copy(codeword[c.k+j], parity[j])
			}
		}
	}
	return nil
}

func parityErased(erased map[int]bool, k, n int) bool {
	for i := k; i < n; i++ {
		if erased[i] {
			return true
		}
	}
	return false
}

// gfInvertMatrix inverts a square matrix over GF(2^8) via Gauss-Jordan
// elimination with partial pivoting. Returns ErrDecodeFailed if the matrix
// is singular.
func gfInvertMatrix(m [][]byte) ([][]byte, error) {
	n := len(m)
	aug := make([][]byte, n)
	for i := range aug {
		aug[i] = make([]byte, 2*n)
		copy(aug[i], m[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for row := col; row < n; row++ {
			if aug[row][col] != 0 {
				pivot = row
				break
			}
		}
		if pivot == -1 {
			return nil, ErrDecodeFailed
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		inv := gfInv(aug[col][col])
		for j := 0; j < 2*n; j++ {
			aug[col][j] = gfMul(aug[col][j], inv)
		}

		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := aug[row][col]
			if factor == 0 {
				continue
			}
			for j := 0; j < 2*n; j++ {
				aug[row][j] = gfAdd(aug[row][j], gfMul(factor, aug[col][j]))
			}
		}
	}

	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, n)
		copy(out[i], aug[i][n:])
	}
	return out, nil
}
