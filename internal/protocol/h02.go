package protocol

// H02Codec is a placeholder. The H02 wire format is not implemented;
// every frame is rejected so the trial list falls through to the
// generic codec rather than guessing at vendor semantics.
type H02Codec struct{}

// NewH02Codec creates the placeholder H02 codec
func NewH02Codec() *H02Codec {
	return &H02Codec{}
}

func (c *H02Codec) Name() string { return "h02" }

func (c *H02Codec) Decode(buf []byte) (*Event, int, error) {
	return nil, 0, ErrReject
}

func (c *H02Codec) EncodeAuthAck(ok bool) []byte        { return nil }
func (c *H02Codec) EncodeLoginAck(ok bool) []byte       { return nil }
func (c *H02Codec) EncodeLocationAck(seq uint16) []byte { return nil }
func (c *H02Codec) EncodeHeartbeatAck() []byte          { return nil }

func (c *H02Codec) EncodeCommand(kind string, params map[string]interface{}) ([]byte, error) {
	return nil, ErrUnsupported
}
