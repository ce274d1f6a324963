package services

import (
	"dialog-service/models"
	"dialog-service/utils"
)

// authorize is the role check every service operation starts with.
func authorize(caller *models.User, allowed ...models.Role) error {
	if caller == nil {
		return utils.AccessDenied("User has no access")
	}
	if !caller.Role.In(allowed...) {
		return utils.AccessDenied("User has no access")
	}
	return nil
}
