package winservice

import "github.com/dposnet/dposd/infrastructure/config"

// ServiceDescription names the Windows service and describes it in the
// service control manager.
type ServiceDescription struct {
	Name        string
	DisplayName string
	Description string
}

// MainFunc runs the node until it stops. startedChan is signalled once the
// node is up.
type MainFunc func(startedChan chan<- struct{}) error

// WinServiceMain reports whether the process ran as a Windows service, in
// which case the caller exits instead of running the node interactively.
// Outside Windows it always returns false.
var WinServiceMain = func(MainFunc, *ServiceDescription, *config.Config) (bool, error) { return false, nil }
