package interrupt

import (
	"bytes"
	"fmt"
	"log/slog"
)

// Page fault error code bits.
const (
	PageFaultPresent  = 1 << 0
	PageFaultWrite    = 1 << 1
	PageFaultUser     = 1 << 2
	PageFaultReserved = 1 << 3
	PageFaultFetch    = 1 << 4
)

// PageFaultCause is the decoded page fault error code.
type PageFaultCause struct {
	Address uint32
	// Present is false for a missing page and true for a protection
	// violation.
	Present  bool
	Write    bool
	User     bool
	Reserved bool
	Fetch    bool
}

// DecodePageFault decodes a page fault error code together with CR2.
func DecodePageFault(errorCode, cr2 uint32) PageFaultCause {
	return PageFaultCause{
		Address:  cr2,
		Present:  errorCode&PageFaultPresent != 0,
		Write:    errorCode&PageFaultWrite != 0,
		User:     errorCode&PageFaultUser != 0,
		Reserved: errorCode&PageFaultReserved != 0,
		Fetch:    errorCode&PageFaultFetch != 0,
	}
}

func (c PageFaultCause) String() string {
	access := "read"
	switch {
	case c.Fetch:
		access = "fetch"
	case c.Write:
		access = "write"
	}
	mode := "kernel"
	if c.User {
		mode = "user"
	}
	reason := "page not present"
	if c.Present {
		reason = "protection violation"
	}
	if c.Reserved {
		reason += ", reserved bit set"
	}
	return fmt.Sprintf("%s %s at 0x%08x: %s", mode, access, c.Address, reason)
}

// LogValue implements slog.LogValuer.
func (c PageFaultCause) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cr2", fmt.Sprintf("0x%08x", c.Address)),
		slog.Bool("present", c.Present),
		slog.Bool("write", c.Write),
		slog.Bool("user", c.User),
		slog.Bool("reserved", c.Reserved),
		slog.Bool("fetch", c.Fetch),
	)
}

// FatalVectors are the exceptions InstallFatalHandlers claims.
var FatalVectors = []Vector{DivideError, DoubleFault, GeneralProtection, PageFault}

// InstallFatalHandlers registers handlers that report the fault and stop
// the processor for divide errors, double faults, general protection faults
// and page faults.
func (r *Registry) InstallFatalHandlers() {
	for _, v := range FatalVectors {
		r.RegisterException(v, HandlerFunc(func(f *Frame) {
			r.halt("fatal exception", v, f)
		}))
	}
}

// halt reports f on the log and the diagnostic channel and stops the
// processor. It does not return.
func (r *Registry) halt(msg string, v Vector, f *Frame) {
	attrs := []any{
		slog.String("exception", v.String()),
		slog.String("error_code", fmt.Sprintf("0x%x", f.ErrorCode)),
		slog.Any("frame", f),
	}
	var dump bytes.Buffer
	fmt.Fprintf(&dump, "%s: %v error=0x%x\n", msg, v, f.ErrorCode)
	if v == PageFault {
		cause := DecodePageFault(f.ErrorCode, r.platform.ReadCR2())
		attrs = append(attrs, slog.Any("page_fault", cause))
		fmt.Fprintf(&dump, "%v\n", cause)
	}
	f.DumpTo(&dump)

	r.log.Error(msg, attrs...)
	r.diag.Write(dump.String())
	r.platform.Stop()
}
