package rediskey

import "fmt"

const (
	ReleasePrefix = "updater:release"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLatestReleaseKey returns "updater:release:latest:{repo}"
func BuildLatestReleaseKey(repo string) string {
	return NamespaceKey(ReleasePrefix, "latest:"+repo)
}
