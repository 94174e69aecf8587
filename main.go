package main

import (
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/samuelfneumann/goarcade/agent/deepq"
	"github.com/samuelfneumann/goarcade/environment/minigame"
	"github.com/samuelfneumann/goarcade/environment/wrappers"
	"github.com/samuelfneumann/goarcade/experiment"
	"github.com/samuelfneumann/goarcade/experiment/checkpointer"
	"github.com/samuelfneumann/goarcade/experiment/tracker"
	"github.com/samuelfneumann/goarcade/exploration"
	"github.com/samuelfneumann/goarcade/expreplay"
	"github.com/samuelfneumann/goarcade/initwfn"
	"github.com/samuelfneumann/goarcade/network"
	"github.com/samuelfneumann/goarcade/solver"
)

func main() {
	var seed uint64 = 192382

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	// Create the game and stack frames so the network sees motion
	game, err := minigame.New(0.99, seed)
	if err != nil {
		log.Fatal(err)
	}
	env, err := wrappers.NewFrameStack(game, 4)
	if err != nil {
		log.Fatal(err)
	}

	// Weight initialization and gradient descent method
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		log.Fatal(err)
	}
	adam, err := solver.NewDefaultAdam(0.001, 32)
	if err != nil {
		log.Fatal(err)
	}

	// ε decays linearly over the first portion of training
	epsilon, err := exploration.NewTypedConfig(exploration.LinearConfig{
		Max:        1.0,
		Min:        0.05,
		DecaySteps: 50_000,
	})
	if err != nil {
		log.Fatal(err)
	}

	config := deepq.Config{
		PolicyLayers: []int{128, 128},
		Biases:       []bool{true, true},
		Activations:  []*network.Activation{network.ReLU(), network.ReLU()},
		InitWFn:      init,
		Solver:       adam,
		Exploration:  epsilon,
		Replay: expreplay.Config{
			Capacity:    100_000,
			MinCapacity: 1_000,
			BatchSize:   32,
			Seed:        seed,
		},
		Tau:                  1.0,
		TargetUpdateInterval: 500,
		UpdateInterval:       1,
	}

	a, err := config.CreateAgent(env, seed)
	if err != nil {
		log.Fatal(err)
	}

	// Snapshot the learned weights periodically
	dqn := a.(*deepq.DeepQ)
	dqn.SetLogger(logger)
	ckpt, err := checkpointer.NewBolt("./checkpoints.db",
		dqn.TrainNet().(checkpointer.Serializable), 10_000)
	if err != nil {
		log.Fatal(err)
	}
	defer ckpt.Close()

	trackers := []tracker.Tracker{
		tracker.NewReturn("./returns.bin"),
		tracker.NewEpisodeLength("./lengths.bin"),
		tracker.NewZap(logger),
	}

	e, err := experiment.NewOnline(env, a, 200_000, trackers,
		[]checkpointer.Checkpointer{ckpt}, logger)
	if err != nil {
		log.Fatal(err)
	}

	if err := e.Run(); err != nil {
		log.Fatal(err)
	}
	if err := e.Save(); err != nil {
		log.Fatal(err)
	}

	data, err := tracker.LoadData("./returns.bin")
	if err != nil {
		log.Fatal(err)
	}
	if len(data) > 10 {
		data = data[len(data)-10:]
	}
	fmt.Println(data)
}
