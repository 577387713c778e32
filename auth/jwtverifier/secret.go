package jwtverifier

import (
	"sort"

	"github.com/golang-jwt/jwt/v5"
)

// secretMethods lists every signing method registered with the JWT library,
// except "none". Only the HMAC methods can verify against a byte secret; the
// others fail with an invalid key type.
var secretMethods = registeredMethods()

func registeredMethods() []string {
	methods := []string{}
	for _, alg := range jwt.GetAlgorithms() {
		if alg == jwt.SigningMethodNone.Alg() {
			continue
		}
		methods = append(methods, alg)
	}
	sort.Strings(methods)
	return methods
}
