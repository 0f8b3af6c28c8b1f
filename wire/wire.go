// Package wire defines the messages exchanged by the analysis service and
// their CBOR encoding.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/sqdis/pipeline"
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// AnalyzeRequest carries one compiled file.
type AnalyzeRequest struct {
	Name    string           `cbor:"1,keyasint"`
	Data    []byte           `cbor:"2,keyasint"`
	Options pipeline.Options `cbor:"3,keyasint"`
}

// AnalyzeResponse returns the report and a handle for follow-up queries.
type AnalyzeResponse struct {
	Handle string           `cbor:"1,keyasint,omitempty"`
	Report *pipeline.Report `cbor:"2,keyasint"`
}

// ListFunctionsRequest names a file either by a handle from a previous
// Analyze call or by its contents.
type ListFunctionsRequest struct {
	Handle string `cbor:"1,keyasint,omitempty"`
	Name   string `cbor:"2,keyasint,omitempty"`
	Data   []byte `cbor:"3,keyasint,omitempty"`
}

type ListFunctionsResponse struct {
	Functions []pipeline.FunctionSummary `cbor:"1,keyasint"`
}

// MarshalReport serializes a Report to canonical CBOR.
func MarshalReport(r *pipeline.Report) ([]byte, error) {
	return encMode.Marshal(r)
}

// UnmarshalReport deserializes a Report from CBOR bytes.
func UnmarshalReport(data []byte) (*pipeline.Report, error) {
	var r pipeline.Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("wire: unmarshal report: %w", err)
	}
	return &r, nil
}

// Codec carries service messages as CBOR. It satisfies both the Connect
// and the grpc-go codec interfaces.
type Codec struct{}

// CodecName is the content subtype: application/cbor for Connect and
// application/grpc+cbor for gRPC.
const CodecName = "cbor"

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal %T: %w", v, err)
	}
	return nil
}
