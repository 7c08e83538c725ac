// Command judge-token signs access tokens for judge daemons and operators.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"judgehub/internal/judge/auth"
)

func main() {
	secret := flag.String("secret", os.Getenv("JUDGEHUB_AUTH_SECRET"), "HS256 signing secret")
	issuer := flag.String("issuer", "judgehub", "token issuer")
	uid := flag.Int64("uid", 1, "user id of the token holder")
	privs := flag.String("priv", "judge", "comma separated privileges: judge, user")
	ttl := flag.Duration("ttl", 0, "token lifetime, 0 never expires")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "secret is required")
		os.Exit(2)
	}
	var priv int64
	for _, name := range strings.Split(*privs, ",") {
		switch strings.TrimSpace(name) {
		case "judge":
			priv |= auth.PrivJudge
		case "user":
			priv |= auth.PrivUser
		case "":
		default:
			fmt.Fprintf(os.Stderr, "unknown privilege %q\n", name)
			os.Exit(2)
		}
	}

	token, err := auth.Issue(*secret, *issuer, *uid, priv, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
