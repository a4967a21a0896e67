package profiling

import (
	"net"
	"net/http"

	// Registers the pprof handlers on the default mux.
	_ "net/http/pprof"

	"github.com/dposnet/dposd/infrastructure/logger"
	"github.com/dposnet/dposd/util/panics"
)

// Start serves the pprof handlers on port, in the background.
func Start(port string, log *logger.Logger) {
	spawn := panics.GoroutineWrapperFunc(log)
	spawn("profiling.Start", func() {
		listenAddr := net.JoinHostPort("", port)
		log.Infof("Profile server listening on %s", listenAddr)
		http.Handle("/", http.RedirectHandler("/debug/pprof", http.StatusSeeOther))
		log.Error(http.ListenAndServe(listenAddr, nil))
	})
}
