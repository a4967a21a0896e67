package winservice

import (
	"github.com/btcsuite/winsvc/svc"
	"github.com/dposnet/dposd/infrastructure/config"
)

func init() {
	WinServiceMain = runAsService
}

// runAsService performs the requested service command, if any. Otherwise,
// when the process was started by the service control manager, it runs
// main as a service until the manager stops it.
func runAsService(main MainFunc, description *ServiceDescription, cfg *config.Config) (bool, error) {
	s := newService(main, description, cfg)
	if cfg.ServiceOptions.ServiceCommand != "" {
		return true, s.performServiceCommand()
	}

	interactive, err := svc.IsAnInteractiveSession()
	if err != nil || interactive {
		return false, err
	}
	return true, s.Start()
}
