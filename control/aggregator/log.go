package aggregator

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "aggregator")
