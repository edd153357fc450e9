package meshwire

type RequestHeader struct {
	Seq  uint64 `cbor:"1,keyasint,omitempty"`
	Type uint8  `cbor:"2,keyasint,omitempty"`
}

type ResponseHeader struct {
	Seq uint64 `cbor:"1,keyasint,omitempty"`
	Err string `cbor:"2,keyasint,omitempty"`
}
