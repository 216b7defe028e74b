package protectx

// Protector marks every socket it sees with a fixed firewall mark,
// satisfying the udpxlate/tcpstack Protector interfaces without either
// package importing platform build tags directly.
type Protector struct {
	Mark uint32
}

// Protect exempts fd from the tunnel (spec §6 protect()).
func (p Protector) Protect(fd int) error {
	return Mark(fd, p.Mark)
}
