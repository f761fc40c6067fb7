// Package pipeline wires the processing stages end to end: conversion of
// registered epochs, network inversion, alignment into the reference
// epoch's frame, segmentation, classification, and final output assembly.
//
// The runtime owns the run's exclusion counters and checkpoints per-epoch
// lifecycle state to the run store between stages, so interrupted runs can
// resume at epoch granularity.
package pipeline
