package privacy

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestWitnessRedaction(t *testing.T) {
	c := qt.New(t)
	secret := big.NewInt(987654321)
	w := NewWitness(secret)

	for _, format := range []string{"%v", "%s", "%#v", "%+v"} {
		out := fmt.Sprintf(format, w)
		c.Assert(strings.Contains(out, secret.String()), qt.IsFalse,
			qt.Commentf("format %s leaked the witness: %s", format, out))
		c.Assert(strings.Contains(out, "redacted"), qt.IsTrue)
	}
}

func TestWitnessSerializationRefused(t *testing.T) {
	c := qt.New(t)
	w := NewWitness("top secret")

	_, err := json.Marshal(w)
	c.Assert(err, qt.ErrorIs, ErrWitnessNotDisclosed)

	_, err = w.MarshalCBOR()
	c.Assert(err, qt.ErrorIs, ErrWitnessNotDisclosed)

	// A struct carrying a witness field must refuse as a whole.
	_, err = json.Marshal(struct {
		Public string
		Secret Witness[string]
	}{Public: "ok", Secret: w})
	c.Assert(err, qt.IsNotNil)
}

func TestDiscloseIsTheOnlyWayOut(t *testing.T) {
	c := qt.New(t)
	a := NewWitness(big.NewInt(40))
	b := NewWitness(big.NewInt(2))

	sum := Map2(a, b, func(x, y *big.Int) *big.Int {
		return new(big.Int).Add(x, y)
	})
	// Still private after computation.
	c.Assert(fmt.Sprint(sum), qt.Equals, "witness(redacted)")

	c.Assert(Disclose(sum).Value().Int64(), qt.Equals, int64(42))
}

func TestMapChainsStayWrapped(t *testing.T) {
	c := qt.New(t)
	w := NewWitness(7)
	doubled := Map(w, func(x int) int { return x * 2 })
	tripled := Map3(w, doubled, NewWitness(1), func(a, b, k int) int {
		return (a + b) * k
	})
	c.Assert(Disclose(tripled).Value(), qt.Equals, 21)
}

func TestEq(t *testing.T) {
	c := qt.New(t)
	c.Assert(Disclose(Eq(NewWitness(5), NewWitness(5))).Value(), qt.IsTrue)
	c.Assert(Disclose(Eq(NewWitness(5), NewWitness(6))).Value(), qt.IsFalse)
}

func TestPublicWrap(t *testing.T) {
	c := qt.New(t)
	d := Public("visible")
	c.Assert(d.Value(), qt.Equals, "visible")

	data, err := json.Marshal(struct {
		V string
	}{V: d.Value()})
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `{"V":"visible"}`)
}
