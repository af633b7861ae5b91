package config

import (
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// dockerHostAlias is the name under which the container runtime exposes the host machine.
const dockerHostAlias = "host.docker.internal"

// IsRunningInDocker returns true if the process runs inside a Docker container.
// Detection is based on /.dockerenv; the result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to the Docker host alias when
// running in a container, so connector catalogs and the store database on
// the host machine stay reachable. Other hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return resolveLoopback(host)
}

func resolveLoopback(host string) string {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostAlias
	}
	return host
}
