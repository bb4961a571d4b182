package services

import (
	"errors"

	"github.com/packetkeeper/packetkeeper/internal/common"
)

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
