package control

import "encoding/json"

// Point is a pointer position in page coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnmarshalJSON accepts both {"x":1,"y":2} and [1,2].
func (p *Point) UnmarshalJSON(b []byte) error {
	var xy [2]float64
	if err := json.Unmarshal(b, &xy); err == nil {
		p.X, p.Y = xy[0], xy[1]
		return nil
	}
	type plain Point
	return json.Unmarshal(b, (*plain)(p))
}

// Delta is a scroll offset.
type Delta struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (d *Delta) UnmarshalJSON(b []byte) error {
	var xy [2]float64
	if err := json.Unmarshal(b, &xy); err == nil {
		d.X, d.Y = xy[0], xy[1]
		return nil
	}
	type plain Delta
	return json.Unmarshal(b, (*plain)(d))
}

// Pointer injects the controlling agent's pointer into the page.
type Pointer interface {
	Mount() error
	Remove()
	Scroll(d Delta)
	Click(p Point)
	Move(p Point)
}
