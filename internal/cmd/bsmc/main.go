// bsmc prices a European call option by Monte-Carlo simulation of a
// Black-Scholes model, with the per-path arithmetic running on the device
// session selected by CUVEC_DEVICE (or the simulated device as fallback).
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/finsim/cuvec"
	"github.com/finsim/cuvec/device"
	"github.com/finsim/cuvec/stochastic"
)

var (
	flagPaths    = flag.Int("paths", 1_000_000, "Number of Monte-Carlo paths")
	flagSpot     = flag.Float64("spot", 100, "Initial stock value")
	flagStrike   = flag.Float64("strike", 105, "Option strike")
	flagRate     = flag.Float64("rate", 0.05, "Risk-free rate")
	flagSigma    = flag.Float64("sigma", 0.2, "Volatility")
	flagMaturity = flag.Float64("maturity", 1, "Option maturity in years")
	flagSeed     = flag.Uint64("seed", 3141, "Random number generator seed")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `bsmc simulates S(T) = S0*exp((r-sigma^2/2)T + sigma*sqrt(T)*Z) and prices
the call max(S(T)-K, 0), reporting the Monte-Carlo price, its standard error
and the closed-form Black-Scholes price.

Usage:
`)
		flag.PrintDefaults()
	}
	klog.InitFlags(flag.CommandLine)
	flag.Parse()

	sess := must.M1(device.Default())
	fmt.Printf("device: %s, paths: %d\n", sess.Name(), *flagPaths)

	rng := rand.New(rand.NewPCG(*flagSeed, 0))
	normals := make([]float64, *flagPaths)
	for i := range normals {
		normals[i] = rng.NormFloat64()
	}

	r, sigma, maturity := *flagRate, *flagSigma, *flagMaturity
	var stock stochastic.Var = must.M1(cuvec.New(sess, 0, normals))
	stock = must.M1(stock.MultScalar(sigma * math.Sqrt(maturity)))
	stock = must.M1(stock.AddScalar((r - sigma*sigma/2) * maturity))
	stock = must.M1(stock.Exp())
	stock = must.M1(stock.MultScalar(*flagSpot))

	payoff := must.M1(stock.SubScalar(*flagStrike))
	payoff = must.M1(payoff.FloorScalar(0))
	discounted := must.M1(payoff.MultScalar(math.Exp(-r * maturity)))

	price := must.M1(discounted.Average())
	stderr := must.M1(discounted.StandardError())
	analytic := blackScholesCall(*flagSpot, *flagStrike, r, sigma, maturity)

	fmt.Printf("monte-carlo price: %.6f (stderr %.6f)\n", price, stderr)
	fmt.Printf("analytic price:    %.6f\n", analytic)
}

func blackScholesCall(s0, k, r, sigma, maturity float64) float64 {
	d1 := (math.Log(s0/k) + (r+sigma*sigma/2)*maturity) / (sigma * math.Sqrt(maturity))
	d2 := d1 - sigma*math.Sqrt(maturity)
	phi := func(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }
	return s0*phi(d1) - k*math.Exp(-r*maturity)*phi(d2)
}
