//
//  Copyright 2023 PayPal Inc.
//
//  Licensed to the Apache Software Foundation (ASF) under one or more
//  contributor license agreements.  See the NOTICE file distributed with
//  this work for additional information regarding copyright ownership.
//  The ASF licenses this file to You under the Apache License, Version 2.0
//  (the "License"); you may not use this file except in compliance with
//  the License.  You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.
//

/*
Package proto implements the FIX tag=value wire format.

Frame

A frame is a run of TAG=VALUE fields, each terminated by SOH (0x01, shown as |).

  8=FIX.4.4|9=0065|35=A|34=1|49=S|52=20240102-03:04:05.006|56=T|98=0|108=30|10=123|
  \________________/\_______________________________________________________/\______/
     begin header                           body                              tail

  begin header:
    "8=" BeginString "|9=" BodyLength "|"
  body:
    BodyLength counts the bytes after the SOH that ends tag 9, up to and
    including the SOH before "10=".
  tail:
    "10=" CheckSum "|", where CheckSum is the sum of every byte before "10=",
    mod 256, written as exactly 3 decimal digits.

Fields written by Sender, front to back:

  8|9|52 SendingTime|35 MsgType|34 MsgSeqNum|49|50|56|57|<application fields>|10

The replayer depends on that order: it replaces everything up to the value of
52 with "|43=Y|52=<now>|122=" so the original SendingTime becomes
OrigSendingTime, then recomputes BodyLength and CheckSum.

RawData

RawData(96) may hold any byte, SOH included. When RawDataLength(95) was seen
earlier in the same message, the value is located by that length and the
following byte must be SOH.

Repeated tags

A tag may occur at most MaxDupFieldCount+1 times in one message. Occurrences
are kept in arrival order and retrieved by index.
*/
package proto
