package evchan

// Pair is the payload of a channel carrying two values per event.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Triple is the payload of a channel carrying three values per event.
type Triple[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

// Enqueue2 packs a and b into one [Pair] and enqueues it as a single event.
func Enqueue2[A, B any](w Writer[Pair[A, B]], a A, b B) {
	w.Enqueue(Pair[A, B]{First: a, Second: b})
}

// Enqueue3 packs a, b and c into one [Triple] and enqueues it as a single
// event.
func Enqueue3[A, B, C any](w Writer[Triple[A, B, C]], a A, b B, c C) {
	w.Enqueue(Triple[A, B, C]{First: a, Second: b, Third: c})
}
