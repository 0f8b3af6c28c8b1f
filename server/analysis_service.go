package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/sqdis/bytecode"
	"github.com/chazu/sqdis/catalog"
	"github.com/chazu/sqdis/pipeline"
	"github.com/chazu/sqdis/wire"
)

// Procedure paths served by the analysis service.
const (
	ServiceName            = "sqdis.v1.AnalysisService"
	AnalyzeProcedure       = "/" + ServiceName + "/Analyze"
	ListFunctionsProcedure = "/" + ServiceName + "/ListFunctions"

	maxMessageBytes = 64 << 20
)

// AnalysisService implements the Analyze and ListFunctions handlers.
type AnalysisService struct {
	pool    *WorkerPool
	reports *ReportStore
	catalog *catalog.Catalog
}

// NewAnalysisService creates an AnalysisService. cat may be nil.
func NewAnalysisService(pool *WorkerPool, reports *ReportStore, cat *catalog.Catalog) *AnalysisService {
	return &AnalysisService{pool: pool, reports: reports, catalog: cat}
}

// Analyze runs the pipeline over the submitted file.
func (s *AnalysisService) Analyze(
	ctx context.Context,
	req *connect.Request[wire.AnalyzeRequest],
) (*connect.Response[wire.AnalyzeResponse], error) {
	msg := req.Msg
	if len(msg.Data) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("data is required"))
	}
	name := msg.Name
	if name == "" {
		name = "<input>"
	}

	v, err := s.pool.Do(ctx, func(ctx context.Context) (any, error) {
		return pipeline.Run(ctx, name, msg.Data, msg.Options)
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	report := v.(*pipeline.Report)

	if s.catalog != nil && msg.Name != "" {
		if err := s.catalog.Store(ctx, msg.Name, msg.Data, report); err != nil {
			log.Errorf("catalog store %s: %s", msg.Name, err)
		}
	}

	log.Infof("analysed %s: %d functions, %d stage failures", name, len(report.Functions), len(report.Errors))
	return connect.NewResponse(&wire.AnalyzeResponse{
		Handle: s.reports.Create(report),
		Report: report,
	}), nil
}

// ListFunctions summarises the prototypes of a file given by handle,
// contents or catalog path, in that order of preference.
func (s *AnalysisService) ListFunctions(
	ctx context.Context,
	req *connect.Request[wire.ListFunctionsRequest],
) (*connect.Response[wire.ListFunctionsResponse], error) {
	msg := req.Msg
	switch {
	case msg.Handle != "":
		r, ok := s.reports.Lookup(msg.Handle)
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown handle %q", msg.Handle))
		}
		return connect.NewResponse(&wire.ListFunctionsResponse{Functions: r.Functions}), nil

	case len(msg.Data) > 0:
		v, err := s.pool.Do(ctx, func(ctx context.Context) (any, error) {
			proto, err := bytecode.ParseBytes(msg.Data)
			if err != nil {
				return nil, err
			}
			return pipeline.Summarize(proto), nil
		})
		if err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(&wire.ListFunctionsResponse{Functions: v.([]pipeline.FunctionSummary)}), nil

	case msg.Name != "" && s.catalog != nil:
		funcs, err := s.catalog.Functions(ctx, msg.Name)
		if err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(&wire.ListFunctionsResponse{Functions: funcs}), nil
	}
	return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle, data or indexed name is required"))
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, bytecode.ErrFormat):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, catalog.ErrFileNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// handlerOptions are shared by every procedure.
func handlerOptions() []connect.HandlerOption {
	return []connect.HandlerOption{
		connect.WithCodec(wire.Codec{}),
		connect.WithReadMaxBytes(maxMessageBytes),
	}
}
