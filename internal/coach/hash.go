package coach

// seedHash is a multiplicative string hash (h = h*31 + b). It is stable
// across processes and platforms, unlike map iteration or hash/maphash.
func seedHash(seed string) uint32 {
	var h uint32
	for i := 0; i < len(seed); i++ {
		h = h*31 + uint32(seed[i])
	}
	return h
}

// pickIndex maps seed onto [0, n).
func pickIndex(seed string, n int) int {
	if n <= 0 {
		return 0
	}
	return int(seedHash(seed) % uint32(n))
}

// pick returns a seeded element of options.
func pick(seed string, options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[pickIndex(seed, len(options))]
}
