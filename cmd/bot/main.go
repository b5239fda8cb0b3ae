package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/transport/grpcenv"
	"envgrid.ai/internal/transport/ws"
)

// caller is the request/response surface shared by both transports.
type caller interface {
	Call(protocol.Request) (protocol.Response, error)
	Close() error
}

type options struct {
	World    string
	Steps    int
	MaxSteps int
	Seed     int64
}

type summary struct {
	World    string
	Steps    int
	Episodes int
	Reward   float64
}

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		grpcAddr  = flag.String("grpc", "", "grpc address; when set the bot uses grpc instead of ws")
		worldName = flag.String("world", "", "world to join (empty creates a fresh one)")
		steps     = flag.Int("steps", 500, "steps to run")
		maxSteps  = flag.Int("max_steps", 0, "per-episode step budget (0 = unlimited)")
		seed      = flag.Int64("seed", 0, "action sampling seed (0 = clock)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var (
		c   caller
		err error
	)
	if *grpcAddr != "" {
		c, err = grpcenv.Dial(ctx, *grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		c, err = ws.Dial(ctx, *url)
	}
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	sum, err := run(ctx, c, options{World: *worldName, Steps: *steps, MaxSteps: *maxSteps, Seed: *seed}, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	logger.Printf("done world=%s steps=%d episodes=%d reward=%.1f", sum.World, sum.Steps, sum.Episodes, sum.Reward)
}

func run(ctx context.Context, c caller, opt options, logger *log.Logger) (summary, error) {
	sum := summary{World: opt.World}
	created := false
	if sum.World == "" {
		resp, err := call(c, protocol.Request{CreateWorld: &protocol.CreateWorldRequest{}})
		if err != nil {
			return sum, err
		}
		sum.World = resp.CreateWorld.WorldName
		created = true
		logger.Printf("created %s", sum.World)
	}

	join := &protocol.JoinWorldRequest{WorldName: sum.World}
	if opt.MaxSteps > 0 {
		join.Settings = protocol.Settings{"max_steps": protocol.Int32Scalar(int32(opt.MaxSteps))}
	}
	resp, err := call(c, protocol.Request{JoinWorld: join})
	if err != nil {
		return sum, err
	}
	logger.Printf("joined %s actions=%d observations=%d", sum.World, len(resp.JoinWorld.Specs.Actions), len(resp.JoinWorld.Specs.Observations))

	rng := rand.New(rand.NewSource(opt.Seed))
	for sum.Steps < opt.Steps && ctx.Err() == nil {
		resp, err := call(c, protocol.Request{Step: &protocol.StepRequest{Actions: protocol.Actions{
			protocol.ActionPaddle: protocol.Int8Scalar(int8(rng.Intn(5))),
			protocol.ActionJump:   protocol.Int8Scalar(int8(rng.Intn(2))),
		}}})
		if err != nil {
			return sum, err
		}
		sum.Steps++
		if r := resp.Step.Observations[protocol.ObservationReward]; len(r.Floats) > 0 {
			sum.Reward += float64(r.Floats[0])
		}
		if resp.Step.State == protocol.StateInterrupted {
			sum.Episodes++
		}
	}

	if created {
		if _, err := call(c, protocol.Request{DestroyWorld: &protocol.DestroyWorldRequest{WorldName: sum.World}}); err != nil {
			return sum, err
		}
		return sum, nil
	}
	_, err = call(c, protocol.Request{LeaveWorld: &protocol.LeaveWorldRequest{}})
	return sum, err
}

// call sends req and turns an error response into an error.
func call(c caller, req protocol.Request) (protocol.Response, error) {
	resp, err := c.Call(req)
	if err != nil {
		return resp, fmt.Errorf("%s: %w", req.Kind(), err)
	}
	if resp.Error != nil {
		return resp, fmt.Errorf("%s: %s (%s)", req.Kind(), resp.Error.Message, resp.Error.Code)
	}
	if resp.Kind() != req.Kind() {
		return resp, fmt.Errorf("%s: unexpected %s response", req.Kind(), resp.Kind())
	}
	return resp, nil
}
