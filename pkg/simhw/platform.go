package simhw

// Platform is a host-side launch.Platform: the register writes are
// recorded and the reset-handler call returns instead of transferring
// control, so a test or cmd/bootsim can observe a completed jump.
type Platform struct {
	VectorTableOffset uint32
	StackPointer      uint32
	ResetHandler      uint32
	Jumped            bool
}

// NewPlatform creates a Platform with no jump recorded.
func NewPlatform() *Platform {
	return &Platform{}
}

func (p *Platform) SetVectorTableOffset(appStart uint32) error {
	p.VectorTableOffset = appStart
	return nil
}

func (p *Platform) SetMainStackPointer(sp uint32) error {
	p.StackPointer = sp
	return nil
}

func (p *Platform) CallResetHandler(resetHandler uint32) {
	p.ResetHandler = resetHandler
	p.Jumped = true
}
