package winservice

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/winsvc/eventlog"
	"github.com/btcsuite/winsvc/mgr"
	"github.com/btcsuite/winsvc/svc"
	"github.com/dposnet/dposd/infrastructure/config"
	"github.com/dposnet/dposd/infrastructure/os/signal"
	"github.com/dposnet/dposd/version"
	"github.com/pkg/errors"
)

const controlTimeout = 10 * time.Second

// Service houses the handler the windows service control manager talks to.
type Service struct {
	main        MainFunc
	description *ServiceDescription
	cfg         *config.Config
	eventLog    *eventlog.Log
}

func newService(main MainFunc, description *ServiceDescription, cfg *config.Config) *Service {
	return &Service{
		main:        main,
		description: description,
		cfg:         cfg,
	}
}

// Start runs the node as a service until the service control manager stops it.
func (s *Service) Start() error {
	var err error
	s.eventLog, err = eventlog.Open(s.description.Name)
	if err != nil {
		return err
	}
	defer s.eventLog.Close()

	err = svc.Run(s.description.Name, s)
	if err != nil {
		s.eventLog.Error(1, fmt.Sprintf("Service start failed: %s", err))
		return err
	}
	return nil
}

// Execute is called by winsvc with the service requests. It runs the main
// function in its own goroutine and turns stop requests into a shutdown
// request.
func (s *Service) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown
	changes <- svc.Status{State: svc.StartPending}

	doneChan := make(chan error)
	startedChan := make(chan struct{})
	spawn("winservice.Service.main", func() {
		doneChan <- s.main(startedChan)
	})

	changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}
loop:
	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus

			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				signal.ShutdownRequestChannel <- struct{}{}

			default:
				s.eventLog.Error(1, fmt.Sprintf("Unexpected control request #%d.", c))
			}

		case <-startedChan:
			s.logServiceStart()

		case err := <-doneChan:
			if err != nil {
				s.eventLog.Error(1, err.Error())
			}
			break loop
		}
	}

	changes <- svc.Status{State: svc.Stopped}
	return false, 0
}

func (s *Service) logServiceStart() {
	message := fmt.Sprintf("%s version %s\n", s.description.DisplayName, version.Version())
	message += fmt.Sprintf("Configuration directory: %s\n", config.DefaultAppDir)
	message += fmt.Sprintf("Configuration file: %s\n", s.cfg.ConfigFile)
	message += fmt.Sprintf("Data directory: %s\n", s.cfg.AppDir)
	s.eventLog.Info(1, message)
}

func (s *Service) performServiceCommand() error {
	command := s.cfg.ServiceOptions.ServiceCommand
	log.Infof("Performing service command %s", command)
	switch command {
	case "install":
		return s.install()
	case "remove":
		return s.remove()
	case "start":
		return s.startService()
	case "stop":
		return s.control(svc.Stop, svc.Stopped)
	default:
		return errors.Errorf("invalid service command [%s]", command)
	}
}

func (s *Service) install() error {
	// os.Args[0] may lack the path or the extension depending on how the
	// binary was launched.
	exePath, err := filepath.Abs(os.Args[0])
	if err != nil {
		return err
	}
	if filepath.Ext(exePath) == "" {
		exePath += ".exe"
	}

	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(s.description.Name)
	if err == nil {
		service.Close()
		return errors.Errorf("service %s already exists", s.description.Name)
	}

	service, err = serviceManager.CreateService(s.description.Name, exePath, mgr.Config{
		DisplayName: s.description.DisplayName,
		Description: s.description.Description,
	})
	if err != nil {
		return err
	}
	defer service.Close()

	eventlog.Remove(s.description.Name)
	eventsSupported := uint32(eventlog.Error | eventlog.Warning | eventlog.Info)
	return eventlog.InstallAsEventCreate(s.description.Name, eventsSupported)
}

// remove uninstalls the service. The event log entry is kept so existing
// event log messages stay readable.
func (s *Service) remove() error {
	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(s.description.Name)
	if err != nil {
		return errors.Errorf("service %s is not installed", s.description.Name)
	}
	defer service.Close()

	return service.Delete()
}

func (s *Service) startService() error {
	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(s.description.Name)
	if err != nil {
		return errors.Errorf("could not access service: %s", err)
	}
	defer service.Close()

	err = service.Start(os.Args)
	if err != nil {
		return errors.Errorf("could not start service: %s", err)
	}
	return nil
}

// control sends c to the service and waits for it to reach state to.
func (s *Service) control(c svc.Cmd, to svc.State) error {
	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(s.description.Name)
	if err != nil {
		return errors.Errorf("could not access service: %s", err)
	}
	defer service.Close()

	status, err := service.Control(c)
	if err != nil {
		return errors.Errorf("could not send control=%d: %s", c, err)
	}

	timeout := time.Now().Add(controlTimeout)
	for status.State != to {
		if timeout.Before(time.Now()) {
			return errors.Errorf("timeout waiting for service to go to state=%d", to)
		}
		time.Sleep(300 * time.Millisecond)
		status, err = service.Query()
		if err != nil {
			return errors.Errorf("could not retrieve service status: %s", err)
		}
	}
	return nil
}
