package common

import (
	"os"
	"regexp"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var snowflakeNode *snowflake.Node

func init() {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	snowflakeNode = node
}

// UUIDint64 returns a time-ordered unique int64 id.
func UUIDint64() int64 {
	return snowflakeNode.Generate().Int64()
}

// UUID returns a random uuid string, used for device api keys.
func UUID() string {
	return uuid.NewString()
}

var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidDeviceID reports whether id is a usable device identifier
// (alphanumeric plus hyphen/underscore, non-empty).
func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
