// Command btcminer connects to a Stratum pool (or, in solo mode, polls a
// local node directly) and mines proof-of-work shares/blocks.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/boomstarternetwork/btcminer/internal/algorithm"
	"github.com/boomstarternetwork/btcminer/internal/hasher"
	"github.com/boomstarternetwork/btcminer/internal/metrics"
	"github.com/boomstarternetwork/btcminer/internal/miner"
	"github.com/boomstarternetwork/btcminer/internal/solo"
	"github.com/boomstarternetwork/btcminer/internal/testharness"
)

func main() {
	var (
		poolURL     = flag.String("o", "", "pool URL, host:port (Stratum mode)")
		login       = flag.String("u", "", "worker username")
		password    = flag.String("p", "", "worker password")
		rpcURL      = flag.String("O", "http://127.0.0.1:8332", "node RPC URL (solo mode)")
		algoFlag    = flag.String("a", string(algorithm.SHA256d), "proof-of-work algorithm: sha256d, scrypt, x11")
		backend     = flag.String("i", "software", "hasher backend: software or hardware")
		mode        = flag.String("mode", "stratum", "mining mode: stratum or solo")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
		payAddress  = flag.String("address", "", "solo-mining payout address")
		runHarness  = flag.Bool("t", false, "run the offline test harness and exit")
		debug       = flag.Bool("d", false, "enable debug logging")

		// Accepted for compatibility with prior invocations of this
		// program; these concerns (daemonization, quiet/protocol-dump
		// toggles) are external-collaborator territory and not
		// reimplemented here.
		_ = flag.Bool("B", false, "run as a daemon (unsupported, accepted for compatibility)")
		_ = flag.Bool("q", false, "quiet mode (unsupported, accepted for compatibility)")
		_ = flag.Bool("P", false, "dump protocol traffic (unsupported, accepted for compatibility)")
	)
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	algo, err := algorithm.Parse(*algoFlag)
	if err != nil {
		logrus.WithError(err).Fatal("invalid -a algorithm")
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	if *runHarness {
		if err := testharness.Run(); err != nil {
			logrus.WithError(err).Fatal("test harness failed")
		}
		fmt.Println("test harness: OK")
		return
	}

	h, err := selectHasher(*backend, algo)
	if err != nil {
		logrus.WithError(err).Fatal("invalid -i hasher backend")
	}

	switch *mode {
	case "stratum":
		runStratum(*poolURL, *login, *password, algo, h)
	case "solo":
		runSolo(*rpcURL, *login, *password, *payAddress, algo)
	default:
		logrus.WithField("mode", *mode).Fatal("unknown -mode, expected stratum or solo")
		os.Exit(1)
	}
}

func selectHasher(backend string, algo algorithm.Algorithm) (hasher.Hasher, error) {
	switch backend {
	case "software", "":
		return hasher.Software{HashFunc: algo.HashFunc()}, nil
	case "hardware":
		return nil, fmt.Errorf("hardware backend requires a RegisterBank implementation wired by the caller; none is built into this binary")
	default:
		return nil, fmt.Errorf("unknown hasher backend %q", backend)
	}
}

func runStratum(poolURL, login, password string, algo algorithm.Algorithm, h hasher.Hasher) {
	if poolURL == "" || login == "" {
		logrus.Fatal("-o and -u are required in stratum mode")
	}

	m := miner.New(miner.Config{
		PoolURL:   poolURL,
		Login:     login,
		Password:  password,
		UserAgent: "btcminer/0.1",
		Algorithm: algo,
		Hasher:    h,
	})

	if err := m.ServeForever(); err != nil {
		logrus.WithError(err).Fatal("mining session ended")
	}
}

func runSolo(rpcURL, rpcUser, rpcPass, payAddress string, algo algorithm.Algorithm) {
	if rpcURL == "" || payAddress == "" {
		logrus.Fatal("-O and -address are required in solo mode")
	}

	c := solo.New(solo.Config{
		RPCURL:     rpcURL,
		RPCUser:    rpcUser,
		RPCPass:    rpcPass,
		PayAddress: payAddress,
		HashFunc:   algo.HashFunc(),
		Deadline:   60 * time.Second,
	})

	for {
		logrus.Info("fetching block template")

		tmpl, err := c.FetchTemplate()
		if err != nil {
			logrus.WithError(err).Fatal("getblocktemplate failed")
		}

		result, err := c.MineOnce(tmpl)
		if err != nil {
			logrus.WithError(err).Fatal("mining failed")
		}

		logrus.WithField("hashrate", result.Hashrate).Info("template exhausted or deadline reached")

		if result.Found {
			logrus.Info("block found, submitting")
			if err := c.SubmitBlock(result.BlockHex); err != nil {
				logrus.WithError(err).Error("submitblock failed")
				continue
			}
			logrus.Info("block accepted")
			return
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logrus.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Error("metrics listener stopped")
	}
}
